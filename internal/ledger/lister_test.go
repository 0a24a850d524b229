package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPartitionKey(t *testing.T) {
	assert.True(t, IsPartitionKey("2024-01"))
	assert.False(t, IsPartitionKey("2024-13"))
	assert.False(t, IsPartitionKey("2024-1"))
	assert.False(t, IsPartitionKey("Sheet1"))
	assert.False(t, IsPartitionKey("2024-01-15"))
}

func TestMemoryLedger_ListPartitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger()
	feb, err := m.GetOrCreatePartition(ctx, "2024-02")
	require.NoError(t, err)
	jan, err := m.GetOrCreatePartition(ctx, "2024-01")
	require.NoError(t, err)

	parts, err := m.ListPartitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Partition{jan, feb}, parts)
}
