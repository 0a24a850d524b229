package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlemilk/inboxledger/backend/internal/blob"
	"github.com/castlemilk/inboxledger/backend/internal/extraction"
	"github.com/castlemilk/inboxledger/backend/internal/ledger"
	"github.com/castlemilk/inboxledger/backend/internal/mail"
)

// fakeSource serves fixed messages and never hides marked ones, so tests can
// replay a message and observe deduplication.
type fakeSource struct {
	messages map[string]*mail.Message
	order    []string
	fetchErr map[string]error
	marked   []string
}

func newFakeSource(msgs ...*mail.Message) *fakeSource {
	s := &fakeSource{messages: make(map[string]*mail.Message), fetchErr: make(map[string]error)}
	for _, m := range msgs {
		s.messages[m.ID] = m
		s.order = append(s.order, m.ID)
	}
	return s
}

func (s *fakeSource) ListUnprocessed(context.Context) ([]string, error) {
	return append([]string(nil), s.order...), nil
}

func (s *fakeSource) Fetch(_ context.Context, id string) (*mail.Message, error) {
	if err := s.fetchErr[id]; err != nil {
		return nil, err
	}
	return s.messages[id], nil
}

func (s *fakeSource) MarkProcessed(_ context.Context, id string) error {
	s.marked = append(s.marked, id)
	return nil
}

// fakeExtractor maps attachment bytes to a canned outcome.
type fakeExtractor struct {
	results map[string]extraction.Result
	errs    map[string]error
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, data []byte) (extraction.Result, error) {
	f.calls++
	if err := f.errs[string(data)]; err != nil {
		return extraction.Result{}, err
	}
	r, ok := f.results[string(data)]
	if !ok {
		return extraction.Result{}, fmt.Errorf("unexpected document %q: %w", data, extraction.ErrExtractionFailed)
	}
	return r, nil
}

// countingLedger counts partition lookups and appended rows.
type countingLedger struct {
	ledger.Ledger
	lookups int
	appends int
}

func (l *countingLedger) GetOrCreatePartition(ctx context.Context, key string) (ledger.Partition, error) {
	l.lookups++
	return l.Ledger.GetOrCreatePartition(ctx, key)
}

func (l *countingLedger) AppendRow(ctx context.Context, p ledger.Partition, cells []string) error {
	l.appends++
	return l.Ledger.AppendRow(ctx, p, cells)
}

// flakyTotalsLedger fails totals-row appends until failures reaches zero.
type flakyTotalsLedger struct {
	ledger.Ledger
	failures int
}

func (l *flakyTotalsLedger) AppendRow(ctx context.Context, p ledger.Partition, cells []string) error {
	if ledger.IsTotalsRow(cells) && l.failures > 0 {
		l.failures--
		return ledger.ErrUnavailable
	}
	return l.Ledger.AppendRow(ctx, p, cells)
}

func message(id, subject string, attachments ...string) *mail.Message {
	m := &mail.Message{
		ID:      id,
		From:    "billing@acme.test",
		Subject: subject,
		SentAt:  time.Date(2024, 3, 2, 9, 30, 15, 0, time.UTC),
		Parts:   []mail.Part{{ContentType: "text/plain", Body: []byte("see attached")}},
	}
	for _, a := range attachments {
		m.Parts = append(m.Parts, mail.Part{
			ContentType: "application/pdf",
			Disposition: "attachment",
			Filename:    a + ".pdf",
			Body:        []byte(a),
		})
	}
	return m
}

type harness struct {
	source    *fakeSource
	extractor *fakeExtractor
	ledger    *ledger.MemoryLedger
	blobs     *blob.MemoryStore
	staging   string
}

func newHarness(msgs ...*mail.Message) *harness {
	return &harness{
		source: newFakeSource(msgs...),
		extractor: &fakeExtractor{
			results: map[string]extraction.Result{
				"jan-invoice": {InvoiceNumber: "INV-1", InvoiceDate: "2024-01-15", InvoiceAmount: "$10.50", VendorName: "Acme"},
				"jan-receipt": {InvoiceDate: "2024-01-20", InvoiceAmount: "€2", VendorName: "Café"},
				"feb-invoice": {InvoiceNumber: "INV-2", InvoiceDate: "2024-02-01", InvoiceAmount: "$4.50", VendorName: "Acme"},
				"no-date":     {InvoiceNumber: "INV-3", InvoiceAmount: "$1"},
			},
			errs: make(map[string]error),
		},
		ledger: ledger.NewMemoryLedger(),
		blobs:  blob.NewMemoryStore(),
	}
}

func (h *harness) pipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	h.staging = t.TempDir()
	opts.StagingDir = h.staging
	return New(h.source, h.extractor, h.ledger, h.blobs, opts)
}

func (h *harness) rows(t *testing.T, key string) [][]string {
	t.Helper()
	ctx := context.Background()
	p, err := h.ledger.GetOrCreatePartition(ctx, key)
	require.NoError(t, err)
	rows, err := h.ledger.ReadAllRows(ctx, p)
	require.NoError(t, err)
	return rows
}

func TestRun_RoutesByInvoiceDate(t *testing.T) {
	h := newHarness(message("m1", "March bills", "jan-invoice", "feb-invoice", "jan-receipt"))
	p := h.pipeline(t, Options{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunReport{Messages: 1, Recorded: 3}, report)
	assert.Equal(t, []string{"m1"}, h.source.marked)

	assert.ElementsMatch(t, []string{"2024-01", "2024-02"}, h.ledger.Partitions())

	jan := h.rows(t, "2024-01")
	require.Len(t, jan, 3)
	first := ledger.RowFromCells(jan[0])
	assert.Equal(t, "2024-03-02", first.EmailDate)
	assert.Equal(t, "09:30:15", first.EmailTime)
	assert.Equal(t, "billing@acme.test", first.From)
	assert.Equal(t, "March bills", first.Subject)
	assert.Equal(t, "INV-1", first.InvoiceNumber)
	assert.Equal(t, "$10.50", first.InvoiceAmount)
	assert.NotEmpty(t, first.AttachmentLink)

	assert.True(t, ledger.IsTotalsRow(jan[2]), "totals row is last")
	assert.Equal(t, "$10.50 + €2.00", jan[2][ledger.ColInvoiceAmount])

	feb := h.rows(t, "2024-02")
	require.Len(t, feb, 2)
	assert.Equal(t, "$4.50", feb[1][ledger.ColInvoiceAmount])

	files := h.blobs.Files()
	require.Len(t, files, 3)
	assert.Equal(t, "2024-01/March bills", h.blobs.FolderPath(files[0].Folder))
	assert.Equal(t, "2024-02/March bills", h.blobs.FolderPath(files[1].Folder))
	assert.Equal(t, files[0].Folder, files[2].Folder, "one subfolder per message and month")
	assert.Equal(t, []byte("jan-invoice"), files[0].Data)
}

func TestRun_IsIdempotent(t *testing.T) {
	h := newHarness(message("m1", "Invoice", "jan-invoice", "jan-receipt"))
	p := h.pipeline(t, Options{})
	ctx := context.Background()

	_, err := p.Run(ctx)
	require.NoError(t, err)
	before := h.rows(t, "2024-01")
	filesBefore := len(h.blobs.Files())

	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunReport{Messages: 1, Duplicates: 2}, report)
	assert.Equal(t, before, h.rows(t, "2024-01"))
	assert.Len(t, h.blobs.Files(), filesBefore)
}

func TestRun_SameDocumentInTwoMessages(t *testing.T) {
	h := newHarness(
		message("m1", "Invoice", "jan-invoice"),
		message("m2", "Fwd: Invoice", "jan-invoice"),
	)
	p := h.pipeline(t, Options{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recorded)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, []string{"m1", "m2"}, h.source.marked)
	assert.Len(t, h.rows(t, "2024-01"), 2)
}

func TestRun_MissingInvoiceDateIsParked(t *testing.T) {
	h := newHarness(message("m1", "Receipt", "no-date"))
	p := h.pipeline(t, Options{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunReport{Messages: 1, Unfiled: 1}, report)
	assert.Equal(t, []string{"m1"}, h.source.marked)
	assert.Empty(t, h.ledger.Partitions())

	files := h.blobs.Files()
	require.Len(t, files, 1)
	assert.Equal(t, UnfiledFolder+"/Receipt", h.blobs.FolderPath(files[0].Folder))
}

func TestProcessMessage_MissingInvoiceDateError(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t, Options{})

	report := p.ProcessMessage(context.Background(), message("m1", "Receipt", "no-date"))
	require.Len(t, report.Attachments, 1)
	assert.Equal(t, OutcomeUnfiled, report.Attachments[0].Outcome)
	assert.ErrorIs(t, report.Attachments[0].Err, ErrMissingInvoiceDate)
	assert.False(t, report.Failed())
}

func TestRun_FailureIsolation(t *testing.T) {
	h := newHarness(
		message("m1", "Mixed", "quota", "jan-invoice", "scan"),
		message("m2", "Other", "feb-invoice"),
	)
	h.extractor.errs["quota"] = fmt.Errorf("invoice model: %w", extraction.ErrExtractionExhausted)
	h.extractor.errs["scan"] = fmt.Errorf("%w: unknown format", extraction.ErrUnsupportedDocument)
	p := h.pipeline(t, Options{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunReport{Messages: 2, Recorded: 2, Skipped: 1, Failed: 1}, report)
	assert.Equal(t, []string{"m2"}, h.source.marked, "m1 stays unprocessed")
	assert.Len(t, h.rows(t, "2024-01"), 2)

	// Next run: quota recovered, only the failed document is new.
	delete(h.extractor.errs, "quota")
	h.extractor.results["quota"] = extraction.Result{InvoiceNumber: "INV-9", InvoiceDate: "2024-01-03", InvoiceAmount: "$1"}
	report, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recorded)
	assert.Equal(t, 2, report.Duplicates)
	assert.Equal(t, []string{"m2", "m1", "m2"}, h.source.marked)

	jan := h.rows(t, "2024-01")
	require.Len(t, jan, 3)
	assert.Equal(t, "$11.50", jan[2][ledger.ColInvoiceAmount])
}

func TestRun_FetchFailureDoesNotStopRun(t *testing.T) {
	h := newHarness(message("m1", "A", "jan-invoice"), message("m2", "B", "feb-invoice"))
	h.source.fetchErr["m1"] = mail.ErrUnavailable
	p := h.pipeline(t, Options{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunReport{Messages: 2, Recorded: 1, Failed: 1}, report)
	assert.Equal(t, []string{"m2"}, h.source.marked)
}

func TestRun_LedgerFailureLeavesMessageUnprocessed(t *testing.T) {
	h := newHarness(message("m1", "A", "jan-invoice"))
	p := New(h.source, h.extractor, failingLedger{}, h.blobs, Options{StagingDir: t.TempDir()})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, h.source.marked)
	assert.Empty(t, h.blobs.Files())
}

func TestRun_RetryRepairsTotalsAfterFailedRecompute(t *testing.T) {
	h := newHarness(message("m1", "A", "jan-invoice"))
	flaky := &flakyTotalsLedger{Ledger: h.ledger, failures: 1}
	p := New(h.source, h.extractor, flaky, h.blobs, Options{StagingDir: t.TempDir()})
	ctx := context.Background()

	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunReport{Messages: 1, Failed: 1}, report)
	assert.Empty(t, h.source.marked)
	rows := h.rows(t, "2024-01")
	require.Len(t, rows, 1)
	assert.False(t, ledger.IsTotalsRow(rows[0]))

	report, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunReport{Messages: 1, Duplicates: 1}, report)
	assert.Equal(t, []string{"m1"}, h.source.marked)

	rows = h.rows(t, "2024-01")
	require.Len(t, rows, 2)
	assert.Equal(t, "INV-1", ledger.RowFromCells(rows[0]).InvoiceNumber)
	assert.True(t, ledger.IsTotalsRow(rows[1]), "totals row is last")
	assert.Equal(t, "$10.50", rows[1][ledger.ColInvoiceAmount])
	assert.Len(t, h.blobs.Files(), 1, "attachment uploaded once")
}

func TestRun_DuplicateWithCurrentTotalsWritesNothing(t *testing.T) {
	h := newHarness(message("m1", "A", "jan-invoice"))
	counting := &countingLedger{Ledger: h.ledger}
	p := New(h.source, h.extractor, counting, h.blobs, Options{StagingDir: t.TempDir()})
	ctx := context.Background()

	_, err := p.Run(ctx)
	require.NoError(t, err)
	writes := counting.appends

	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunReport{Messages: 1, Duplicates: 1}, report)
	assert.Equal(t, writes, counting.appends)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	h := newHarness(message("m1", "A", "jan-invoice", "no-date"))
	p := h.pipeline(t, Options{DryRun: true})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunReport{Messages: 1, Recorded: 1, Unfiled: 1}, report)
	assert.Empty(t, h.ledger.Partitions())
	assert.Empty(t, h.blobs.Files())
	assert.Empty(t, h.source.marked)
}

func TestRun_PartitionCacheResetsPerRun(t *testing.T) {
	h := newHarness(message("m1", "A", "jan-invoice", "jan-receipt"))
	counting := &countingLedger{Ledger: h.ledger}
	p := New(h.source, h.extractor, counting, h.blobs, Options{StagingDir: t.TempDir()})
	ctx := context.Background()

	_, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.lookups)

	_, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counting.lookups)
}

func TestRun_StagedFilesAreRemoved(t *testing.T) {
	h := newHarness(message("m1", "A", "jan-invoice", "broken"))
	h.extractor.errs["broken"] = extraction.ErrExtractionFailed
	p := h.pipeline(t, Options{})

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.extractor.calls)

	entries, err := os.ReadDir(h.staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(message("m1", "A", "jan-invoice"))
	p := h.pipeline(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.extractor.calls)
}

func TestSubfolderName(t *testing.T) {
	assert.Equal(t, "Invoice 1-2", subfolderName(&mail.Message{ID: "7", Subject: "Invoice 1/2"}))
	assert.Equal(t, "message 7", subfolderName(&mail.Message{ID: "7", Subject: "  "}))
}

type failingLedger struct{}

func (failingLedger) GetOrCreatePartition(context.Context, string) (ledger.Partition, error) {
	return ledger.Partition{}, errors.New("spreadsheet offline")
}
func (failingLedger) ReadAllRows(context.Context, ledger.Partition) ([][]string, error) {
	return nil, ledger.ErrUnavailable
}
func (failingLedger) AppendRow(context.Context, ledger.Partition, []string) error {
	return ledger.ErrUnavailable
}
func (failingLedger) DeleteRow(context.Context, ledger.Partition, int) error {
	return ledger.ErrUnavailable
}
func (failingLedger) MergeCells(context.Context, ledger.Partition, int, int, int) error {
	return ledger.ErrUnavailable
}
