package ledger

import (
	"context"
	"errors"

	"github.com/castlemilk/inboxledger/backend/internal/retry"
)

// IsRateLimited is the retry classifier for ledger calls.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// retryingLedger runs every call of the wrapped ledger under one retrier.
type retryingLedger struct {
	next    Ledger
	retrier *retry.Retrier
}

// WithRetry wraps l so that rate-limited calls are retried with backoff.
func WithRetry(l Ledger, r *retry.Retrier) Ledger {
	return &retryingLedger{next: l, retrier: r}
}

func (l *retryingLedger) GetOrCreatePartition(ctx context.Context, key string) (Partition, error) {
	return retry.Do(ctx, l.retrier, "ledger get partition", func(ctx context.Context) (Partition, error) {
		return l.next.GetOrCreatePartition(ctx, key)
	})
}

func (l *retryingLedger) ReadAllRows(ctx context.Context, p Partition) ([][]string, error) {
	return retry.Do(ctx, l.retrier, "ledger read rows", func(ctx context.Context) ([][]string, error) {
		return l.next.ReadAllRows(ctx, p)
	})
}

func (l *retryingLedger) AppendRow(ctx context.Context, p Partition, cells []string) error {
	return retry.Call(ctx, l.retrier, "ledger append row", func(ctx context.Context) error {
		return l.next.AppendRow(ctx, p, cells)
	})
}

func (l *retryingLedger) DeleteRow(ctx context.Context, p Partition, index int) error {
	return retry.Call(ctx, l.retrier, "ledger delete row", func(ctx context.Context) error {
		return l.next.DeleteRow(ctx, p, index)
	})
}

func (l *retryingLedger) MergeCells(ctx context.Context, p Partition, rowIndex, startCol, endCol int) error {
	return retry.Call(ctx, l.retrier, "ledger merge cells", func(ctx context.Context) error {
		return l.next.MergeCells(ctx, p, rowIndex, startCol, endCol)
	})
}
