package pipeline

import (
	"context"

	"github.com/castlemilk/inboxledger/backend/internal/ledger"
)

// partitionCache remembers partitions resolved during one run.
type partitionCache struct {
	ledger     ledger.Ledger
	partitions map[string]ledger.Partition
}

func newPartitionCache(l ledger.Ledger) *partitionCache {
	return &partitionCache{ledger: l, partitions: make(map[string]ledger.Partition)}
}

// Reset forgets every cached partition. Partitions deleted or renamed in the
// ledger between runs are looked up again.
func (c *partitionCache) Reset() {
	c.partitions = make(map[string]ledger.Partition)
}

func (c *partitionCache) Get(ctx context.Context, key string) (ledger.Partition, error) {
	if p, ok := c.partitions[key]; ok {
		return p, nil
	}
	p, err := c.ledger.GetOrCreatePartition(ctx, key)
	if err != nil {
		return ledger.Partition{}, err
	}
	c.partitions[key] = p
	return p, nil
}
