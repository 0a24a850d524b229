package ledger

import (
	"context"
	"time"
)

// Lister is implemented by ledgers that can enumerate their partitions.
type Lister interface {
	ListPartitions(ctx context.Context) ([]Partition, error)
}

// IsPartitionKey reports whether s looks like a partition key (YYYY-MM).
// Other worksheets or documents sharing the store are ignored when listing.
func IsPartitionKey(s string) bool {
	_, err := time.Parse("2006-01", s)
	return err == nil && len(s) == len("2006-01")
}
