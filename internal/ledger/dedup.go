package ledger

import (
	"context"
	"fmt"
)

// Deduplicator decides whether a document is already recorded in a partition.
type Deduplicator struct {
	ledger Ledger
}

// NewDeduplicator creates a Deduplicator over l.
func NewDeduplicator(l Ledger) *Deduplicator {
	return &Deduplicator{ledger: l}
}

// Lookup is what one scan of a partition found.
type Lookup struct {
	Duplicate bool
	// TotalsCurrent is false unless exactly one totals row exists and it is
	// the last row. A run interrupted between appending a row and rewriting
	// the totals leaves it false.
	TotalsCurrent bool
}

// IsDuplicate reports whether a non-totals row of p already has key.
func (d *Deduplicator) IsDuplicate(ctx context.Context, p Partition, key Key) (bool, error) {
	l, err := d.Lookup(ctx, p, key)
	return l.Duplicate, err
}

// Lookup scans p once for key and for the state of its totals row.
func (d *Deduplicator) Lookup(ctx context.Context, p Partition, key Key) (Lookup, error) {
	rows, err := d.ledger.ReadAllRows(ctx, p)
	if err != nil {
		return Lookup{}, fmt.Errorf("read partition %s: %w", p.Key, err)
	}

	var out Lookup
	totals := 0
	key = NewKey(key.InvoiceNumber, key.InvoiceDate, key.InvoiceAmount, key.VendorName)
	for _, cells := range rows {
		if IsTotalsRow(cells) {
			totals++
			continue
		}
		if RowFromCells(cells).Key() == key {
			out.Duplicate = true
		}
	}
	out.TotalsCurrent = totals == 1 && IsTotalsRow(rows[len(rows)-1])
	return out, nil
}
