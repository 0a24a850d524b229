// Package pipeline turns unprocessed emails into ledger rows: attachments
// are extracted, routed to the partition of their invoice month, deduplicated,
// stored, and totalled.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/castlemilk/inboxledger/backend/internal/blob"
	"github.com/castlemilk/inboxledger/backend/internal/extraction"
	"github.com/castlemilk/inboxledger/backend/internal/ledger"
	"github.com/castlemilk/inboxledger/backend/internal/mail"
)

// ErrMissingInvoiceDate is reported for documents without a usable invoice
// date. They cannot be routed to a partition.
var ErrMissingInvoiceDate = errors.New("missing invoice date")

// UnfiledFolder holds attachments that could not be routed to a month.
const UnfiledFolder = "Unfiled"

// Extractor reads ledger fields from a document.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (extraction.Result, error)
}

// Options configures a Pipeline.
type Options struct {
	StagingDir string
	DryRun     bool // extract and report, write nothing
}

// Pipeline processes messages one at a time. It is not safe for concurrent use.
type Pipeline struct {
	source    mail.Source
	extractor Extractor
	ledger    ledger.Ledger
	blobs     blob.Store

	dedup      *ledger.Deduplicator
	aggregator *ledger.Aggregator
	partitions *partitionCache
	stager     *stager
	dryRun     bool
}

// New creates a Pipeline. l should already retry rate-limited calls.
func New(source mail.Source, extractor Extractor, l ledger.Ledger, blobs blob.Store, opts Options) *Pipeline {
	return &Pipeline{
		source:     source,
		extractor:  extractor,
		ledger:     l,
		blobs:      blobs,
		dedup:      ledger.NewDeduplicator(l),
		aggregator: ledger.NewAggregator(l),
		partitions: newPartitionCache(l),
		stager:     newStager(opts.StagingDir),
		dryRun:     opts.DryRun,
	}
}

// Run processes every unprocessed message. A message is marked processed
// only when none of its attachments failed, so failures are retried on the
// next run. Only a failure to list messages or a cancelled ctx stops the run.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	runID := uuid.New().String()
	log := slog.With("run_id", runID)
	start := time.Now()

	p.partitions.Reset()

	var report RunReport
	ids, err := p.source.ListUnprocessed(ctx)
	if err != nil {
		return report, fmt.Errorf("list unprocessed messages: %w", err)
	}
	log.Info("run started", "messages", len(ids), "dry_run", p.dryRun)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		msg, err := p.source.Fetch(ctx, id)
		if err != nil {
			log.Error("failed to fetch message", "message_id", id, "error", err)
			report.Messages++
			report.Failed++
			continue
		}

		mr := p.ProcessMessage(ctx, msg)
		report.add(mr)

		if mr.Failed() {
			log.Warn("message left unprocessed for retry", "message_id", id)
			continue
		}
		if p.dryRun {
			continue
		}
		if err := p.source.MarkProcessed(ctx, id); err != nil {
			log.Error("failed to mark message processed", "message_id", id, "error", err)
		}
	}

	log.Info("run completed",
		"messages", report.Messages,
		"recorded", report.Recorded,
		"duplicates", report.Duplicates,
		"unfiled", report.Unfiled,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", time.Since(start),
	)
	return report, nil
}

// messageFolders creates each blob subfolder for a message at most once.
type messageFolders struct {
	msg     *mail.Message
	folders map[string]blob.Folder // by parent folder name
}

// ProcessMessage handles every attachment of msg independently; one failing
// attachment never affects its siblings.
func (p *Pipeline) ProcessMessage(ctx context.Context, msg *mail.Message) MessageReport {
	report := MessageReport{MessageID: msg.ID}
	attachments := mail.LocateAttachments(msg)
	if len(attachments) == 0 {
		slog.Debug("no attachments", "message_id", msg.ID)
		return report
	}

	folders := &messageFolders{msg: msg, folders: make(map[string]blob.Folder)}
	for _, att := range attachments {
		ar := p.processAttachment(ctx, msg, att, folders)
		if ar.Err != nil {
			level := slog.LevelError
			if ar.Outcome != OutcomeFailed {
				level = slog.LevelWarn
			}
			slog.Log(ctx, level, "attachment not recorded",
				"message_id", msg.ID,
				"attachment", att.Filename,
				"outcome", ar.Outcome,
				"error", ar.Err,
			)
		}
		report.Attachments = append(report.Attachments, ar)
	}
	return report
}

func (p *Pipeline) processAttachment(ctx context.Context, msg *mail.Message, att mail.Attachment, folders *messageFolders) AttachmentReport {
	ar := AttachmentReport{Filename: att.Filename}
	fail := func(err error) AttachmentReport {
		ar.Outcome = OutcomeFailed
		ar.Err = err
		return ar
	}

	result, err := p.extract(ctx, att)
	if err != nil {
		if errors.Is(err, extraction.ErrUnsupportedDocument) {
			ar.Outcome = OutcomeSkipped
			ar.Err = err
			return ar
		}
		return fail(err)
	}
	ar.Result = result

	key, err := ledger.PartitionKey(result.InvoiceDate)
	if err != nil {
		ar.Outcome = OutcomeUnfiled
		ar.Err = fmt.Errorf("%w: %w", ErrMissingInvoiceDate, err)
		if p.dryRun {
			return ar
		}
		if _, err := p.upload(ctx, UnfiledFolder, att, folders); err != nil {
			return fail(fmt.Errorf("park unfiled attachment: %w", err))
		}
		return ar
	}
	ar.Partition = key

	if p.dryRun {
		slog.Info("dry run: would record attachment",
			"message_id", msg.ID,
			"attachment", att.Filename,
			"partition", key,
			"invoice_number", result.InvoiceNumber,
			"amount", result.InvoiceAmount,
		)
		ar.Outcome = OutcomeRecorded
		return ar
	}

	partition, err := p.partitions.Get(ctx, key)
	if err != nil {
		return fail(fmt.Errorf("get partition %s: %w", key, err))
	}

	lookup, err := p.dedup.Lookup(ctx, partition, ledger.NewKey(
		result.InvoiceNumber, result.InvoiceDate, result.InvoiceAmount, result.VendorName,
	))
	if err != nil {
		return fail(fmt.Errorf("check duplicate: %w", err))
	}
	if lookup.Duplicate {
		slog.Info("duplicate document, skipping",
			"message_id", msg.ID,
			"attachment", att.Filename,
			"partition", key,
		)
		// An earlier run may have recorded the row and then failed on the totals.
		if !lookup.TotalsCurrent {
			totals, err := p.aggregator.Recompute(ctx, partition)
			if err != nil {
				return fail(fmt.Errorf("repair totals: %w", err))
			}
			slog.Warn("repaired stale totals", "partition", key, "totals", totals)
		}
		ar.Outcome = OutcomeDuplicate
		return ar
	}

	folder, err := p.upload(ctx, key, att, folders)
	if err != nil {
		return fail(fmt.Errorf("upload attachment: %w", err))
	}

	row := ledger.Row{
		From:           msg.From,
		Subject:        msg.Subject,
		InvoiceNumber:  result.InvoiceNumber,
		InvoiceDate:    result.InvoiceDate,
		InvoiceAmount:  result.InvoiceAmount,
		VendorName:     result.VendorName,
		AttachmentLink: folder.Link,
	}
	if !msg.SentAt.IsZero() {
		row.EmailDate = msg.SentAt.Format("2006-01-02")
		row.EmailTime = msg.SentAt.Format("15:04:05")
	}
	if err := p.ledger.AppendRow(ctx, partition, row.Cells()); err != nil {
		return fail(fmt.Errorf("append row: %w", err))
	}

	totals, err := p.aggregator.Recompute(ctx, partition)
	if err != nil {
		return fail(fmt.Errorf("recompute totals: %w", err))
	}

	slog.Info("recorded attachment",
		"message_id", msg.ID,
		"attachment", att.Filename,
		"partition", key,
		"totals", totals,
	)
	ar.Outcome = OutcomeRecorded
	return ar
}

// extract stages the attachment on disk and runs extraction on the staged
// copy. The staged file is removed whatever the outcome.
func (p *Pipeline) extract(ctx context.Context, att mail.Attachment) (extraction.Result, error) {
	path, cleanup, err := p.stager.Stage(att.Filename, att.Data)
	defer cleanup()
	if err != nil {
		return extraction.Result{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return extraction.Result{}, fmt.Errorf("read staged attachment: %w", err)
	}
	return p.extractor.Extract(ctx, data)
}

// upload stores the attachment in the message's subfolder below parent,
// creating parent and the subfolder on first use.
func (p *Pipeline) upload(ctx context.Context, parent string, att mail.Attachment, folders *messageFolders) (blob.Folder, error) {
	folder, ok := folders.folders[parent]
	if !ok {
		parentFolder, err := p.blobs.EnsureFolder(ctx, "", parent)
		if err != nil {
			return blob.Folder{}, err
		}
		folder, err = p.blobs.CreateFolder(ctx, parentFolder.ID, subfolderName(folders.msg))
		if err != nil {
			return blob.Folder{}, err
		}
		folders.folders[parent] = folder
	}

	name := blob.SanitizeName(att.Filename)
	if name == "" {
		name = "attachment"
	}
	if _, err := p.blobs.Upload(ctx, folder.ID, name, att.Data); err != nil {
		return blob.Folder{}, err
	}
	return folder, nil
}

func subfolderName(msg *mail.Message) string {
	if name := blob.SanitizeName(msg.Subject); name != "" {
		return name
	}
	return blob.SanitizeName("message " + msg.ID)
}
