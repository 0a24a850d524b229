package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/castlemilk/inboxledger/backend/internal/ratelimit"
	"github.com/castlemilk/inboxledger/backend/internal/retry"
)

// Options configures an Extractor.
type Options struct {
	InvoiceModelID string // overrides InvoiceModel.ID when set
	ReceiptModelID string // overrides ReceiptModel.ID when set
	Retry          retry.Config
	MaxPages       int // 0 means no limit
}

// Extractor reads ledger fields from a document with the invoice model,
// filling gaps from the receipt model.
type Extractor struct {
	analyzer Analyzer
	limiter  ratelimit.Limiter
	retrier  *retry.Retrier
	invoice  Model
	receipt  Model
	maxPages int
}

// NewExtractor creates an Extractor. Every Analyze call waits on limiter and
// is retried on quota errors per opts.Retry.
func NewExtractor(analyzer Analyzer, limiter ratelimit.Limiter, opts Options) *Extractor {
	cfg := opts.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultExtractionConfig
	}
	return &Extractor{
		analyzer: analyzer,
		limiter:  limiter,
		retrier:  retry.New(cfg, IsQuota),
		invoice:  InvoiceModel.WithID(opts.InvoiceModelID),
		receipt:  ReceiptModel.WithID(opts.ReceiptModelID),
		maxPages: opts.MaxPages,
	}
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func (e *Extractor) WithSleeper(s retry.Sleeper) *Extractor {
	e.retrier.WithSleeper(s)
	return e
}

// Extract analyzes data with both models and merges the results.
//
// A permanent failure of either model returns ErrExtractionFailed. If quota
// errors outlast the retry budget for either model, ErrExtractionExhausted is
// returned and no partial result is produced, so a later run sees the same
// fields the first successful run would have.
func (e *Extractor) Extract(ctx context.Context, data []byte) (Result, error) {
	info, err := Inspect(data)
	if err != nil {
		return Result{}, err
	}
	if e.maxPages > 0 && info.PageCount > e.maxPages {
		return Result{}, fmt.Errorf("%w: %d pages exceeds limit of %d", ErrUnsupportedDocument, info.PageCount, e.maxPages)
	}

	invoice, err := e.run(ctx, e.invoice, data)
	if err != nil {
		return Result{}, err
	}
	receipt, err := e.run(ctx, e.receipt, data)
	if err != nil {
		return Result{}, err
	}

	return Merge(invoice, receipt), nil
}

func (e *Extractor) run(ctx context.Context, m Model, data []byte) (Result, error) {
	res, err := retry.Do(ctx, e.retrier, "analyze "+m.ID, func(ctx context.Context) (*AnalyzeResult, error) {
		if e.limiter != nil {
			if err := e.limiter.WaitIfNeeded(ctx); err != nil {
				return nil, err
			}
			defer e.limiter.RecordCall()
		}
		return e.analyzer.Analyze(ctx, m.ID, data)
	})
	if err != nil {
		return Result{}, wrapModelError(ctx, m, err)
	}

	if len(res.Documents) == 0 {
		slog.Info("model found no documents", "model", m.ID)
		return Result{}, nil
	}
	if len(res.Documents) > 1 {
		slog.Warn("model found several documents, using the first",
			"model", m.ID,
			"documents", len(res.Documents),
		)
	}
	return m.Map(&res.Documents[0]), nil
}

func wrapModelError(ctx context.Context, m Model, err error) error {
	switch {
	case errors.Is(err, retry.ErrExhausted):
		return fmt.Errorf("%s model: %w: %w", m.Name, ErrExtractionExhausted, err)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	case errors.Is(err, ErrExtractionFailed):
		return fmt.Errorf("%s model: %w", m.Name, err)
	default:
		return fmt.Errorf("%s model: %w: %w", m.Name, ErrExtractionFailed, err)
	}
}
