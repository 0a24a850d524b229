package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryLedger implements Ledger with in-memory storage. It backs dry runs
// and tests.
type MemoryLedger struct {
	mu sync.RWMutex

	partitions map[string]*memoryPartition
	nextID     int64
}

type memoryPartition struct {
	id     int64
	rows   [][]string // data rows, header excluded
	merges []MergedRange
}

// MergedRange records one MergeCells call.
type MergedRange struct {
	Row, StartCol, EndCol int
}

// NewMemoryLedger creates a new in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		partitions: make(map[string]*memoryPartition),
		nextID:     1,
	}
}

func (m *MemoryLedger) GetOrCreatePartition(_ context.Context, key string) (Partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, ok := m.partitions[key]
	if !ok {
		mp = &memoryPartition{id: m.nextID}
		m.nextID++
		m.partitions[key] = mp
	}
	return Partition{Key: key, ID: mp.id}, nil
}

func (m *MemoryLedger) ReadAllRows(_ context.Context, p Partition) ([][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mp, err := m.get(p)
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(mp.rows))
	for i, r := range mp.rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (m *MemoryLedger) AppendRow(_ context.Context, p Partition, cells []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, err := m.get(p)
	if err != nil {
		return err
	}
	mp.rows = append(mp.rows, append([]string(nil), cells...))
	return nil
}

func (m *MemoryLedger) DeleteRow(_ context.Context, p Partition, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, err := m.get(p)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(mp.rows) {
		return fmt.Errorf("delete row %d of %s: %w", index, p.Key, ErrRowOutOfRange)
	}
	mp.rows = append(mp.rows[:index], mp.rows[index+1:]...)

	// merges below the deleted row move up with it
	kept := mp.merges[:0]
	for _, mr := range mp.merges {
		switch {
		case mr.Row == index:
			continue
		case mr.Row > index:
			mr.Row--
		}
		kept = append(kept, mr)
	}
	mp.merges = kept
	return nil
}

func (m *MemoryLedger) MergeCells(_ context.Context, p Partition, rowIndex, startCol, endCol int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, err := m.get(p)
	if err != nil {
		return err
	}
	if rowIndex < 0 || rowIndex >= len(mp.rows) {
		return fmt.Errorf("merge row %d of %s: %w", rowIndex, p.Key, ErrRowOutOfRange)
	}
	mp.merges = append(mp.merges, MergedRange{Row: rowIndex, StartCol: startCol, EndCol: endCol})
	return nil
}

// Partitions returns the keys of all partitions, sorted.
func (m *MemoryLedger) Partitions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.partitions))
	for k := range m.partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryLedger) ListPartitions(_ context.Context) ([]Partition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Partition, 0, len(m.partitions))
	for k, mp := range m.partitions {
		out = append(out, Partition{Key: k, ID: mp.id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Merges returns the merged ranges recorded for a partition.
func (m *MemoryLedger) Merges(key string) []MergedRange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mp, ok := m.partitions[key]
	if !ok {
		return nil
	}
	return append([]MergedRange(nil), mp.merges...)
}

func (m *MemoryLedger) get(p Partition) (*memoryPartition, error) {
	mp, ok := m.partitions[p.Key]
	if !ok {
		return nil, fmt.Errorf("partition %q not found: %w", p.Key, ErrUnavailable)
	}
	return mp, nil
}
