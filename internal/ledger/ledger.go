// Package ledger stores extracted documents as rows in monthly partitions
// (one sheet per invoice month) and keeps a totals row at the end of each.
package ledger

import (
	"context"
	"errors"
)

//go:generate mockgen -source=ledger.go -destination=ledger_mock.go -package=ledger

var (
	// ErrUnavailable wraps every permanent ledger backend failure.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrRateLimited wraps backend rejections that clear after backing off.
	ErrRateLimited = errors.New("ledger rate limited")
	// ErrRowOutOfRange is returned by DeleteRow and MergeCells for bad indexes.
	ErrRowOutOfRange = errors.New("row index out of range")
)

// Partition is one monthly table of the ledger.
type Partition struct {
	Key string // "YYYY-MM"
	ID  int64  // backend id, e.g. the sheet id
}

// Ledger is the tabular store behind the pipeline. Row indexes are 0-based
// and count data rows only; the header row is never returned or addressed.
type Ledger interface {
	// GetOrCreatePartition returns the partition for key, creating it with
	// the header row if it does not exist.
	GetOrCreatePartition(ctx context.Context, key string) (Partition, error)
	// ReadAllRows returns every data row in order.
	ReadAllRows(ctx context.Context, p Partition) ([][]string, error)
	// AppendRow adds a row after the last one.
	AppendRow(ctx context.Context, p Partition, cells []string) error
	// DeleteRow removes the row at index, shifting later rows up.
	DeleteRow(ctx context.Context, p Partition, index int) error
	// MergeCells visually merges columns [startCol, endCol) of a row.
	MergeCells(ctx context.Context, p Partition, rowIndex, startCol, endCol int) error
}

// Header is the first row of every partition.
var Header = []string{
	"Date",
	"Time",
	"From",
	"Subject",
	"Invoice Number",
	"Invoice Date",
	"Invoice Amount",
	"Vendor Name",
	"Attachment",
}

// TotalsSentinel marks the totals row in its first column.
const TotalsSentinel = "Total Amount"

// Column positions within a row.
const (
	ColEmailDate = iota
	ColEmailTime
	ColFrom
	ColSubject
	ColInvoiceNumber
	ColInvoiceDate
	ColInvoiceAmount
	ColVendorName
	ColAttachment

	NumColumns
)

// IsTotalsRow reports whether cells is the totals row.
func IsTotalsRow(cells []string) bool {
	return len(cells) > 0 && Normalize(cells[0]) == TotalsSentinel
}
