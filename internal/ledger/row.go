package ledger

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Row is one recorded document.
type Row struct {
	EmailDate      string
	EmailTime      string
	From           string
	Subject        string
	InvoiceNumber  string
	InvoiceDate    string
	InvoiceAmount  string
	VendorName     string
	AttachmentLink string
}

// Cells returns the row in column order.
func (r Row) Cells() []string {
	return []string{
		r.EmailDate,
		r.EmailTime,
		r.From,
		r.Subject,
		r.InvoiceNumber,
		r.InvoiceDate,
		r.InvoiceAmount,
		r.VendorName,
		r.AttachmentLink,
	}
}

// RowFromCells reads a row back. Backends drop trailing empty cells, so
// short rows are padded.
func RowFromCells(cells []string) Row {
	c := make([]string, NumColumns)
	copy(c, cells)
	return Row{
		EmailDate:      c[ColEmailDate],
		EmailTime:      c[ColEmailTime],
		From:           c[ColFrom],
		Subject:        c[ColSubject],
		InvoiceNumber:  c[ColInvoiceNumber],
		InvoiceDate:    c[ColInvoiceDate],
		InvoiceAmount:  c[ColInvoiceAmount],
		VendorName:     c[ColVendorName],
		AttachmentLink: c[ColAttachment],
	}
}

// Key returns the row's deduplication key.
func (r Row) Key() Key {
	return NewKey(r.InvoiceNumber, r.InvoiceDate, r.InvoiceAmount, r.VendorName)
}

// Key identifies a document independently of which email carried it.
type Key struct {
	InvoiceNumber string
	InvoiceDate   string
	InvoiceAmount string
	VendorName    string
}

// NewKey builds a normalised Key; absent fields are "".
func NewKey(number, date, amount, vendor string) Key {
	return Key{
		InvoiceNumber: Normalize(number),
		InvoiceDate:   Normalize(date),
		InvoiceAmount: Normalize(amount),
		VendorName:    Normalize(vendor),
	}
}

// Normalize is the single comparison form for ledger text: trimmed and in
// Unicode NFC, so "é" typed two ways compares equal.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// PartitionKey maps an invoice date (YYYY-MM-DD) to its partition key
// (YYYY-MM).
func PartitionKey(invoiceDate string) (string, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(invoiceDate))
	if err != nil {
		return "", fmt.Errorf("invalid invoice date %q: %w", invoiceDate, err)
	}
	return t.Format("2006-01"), nil
}
