package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// amountPattern accepts "<optional symbol><decimal>" with thousands commas.
var amountPattern = regexp.MustCompile(`^([€£$¥₹]|\\u[0-9a-fA-F]{4})?\s*(-?[0-9][0-9,]*\.?[0-9]*)$`)

// Aggregator rewrites the totals row of a partition.
type Aggregator struct {
	ledger Ledger
}

// NewAggregator creates an Aggregator over l.
func NewAggregator(l Ledger) *Aggregator {
	return &Aggregator{ledger: l}
}

// Recompute deletes every totals row, sums every remaining amount per
// currency symbol and appends a fresh totals row. It returns the totals text.
func (a *Aggregator) Recompute(ctx context.Context, p Partition) (string, error) {
	rows, err := a.ledger.ReadAllRows(ctx, p)
	if err != nil {
		return "", fmt.Errorf("read partition %s: %w", p.Key, err)
	}

	// bottom up, so earlier indices stay valid
	for i := len(rows) - 1; i >= 0; i-- {
		if !IsTotalsRow(rows[i]) {
			continue
		}
		if err := a.ledger.DeleteRow(ctx, p, i); err != nil {
			return "", fmt.Errorf("delete totals row %d of %s: %w", i, p.Key, err)
		}
		rows = append(rows[:i:i], rows[i+1:]...)
	}

	amounts := make([]string, 0, len(rows))
	for _, cells := range rows {
		amounts = append(amounts, RowFromCells(cells).InvoiceAmount)
	}
	text := FormatTotals(p.Key, amounts)

	totals := make([]string, NumColumns)
	totals[0] = TotalsSentinel
	totals[ColInvoiceAmount] = text
	if err := a.ledger.AppendRow(ctx, p, totals); err != nil {
		return "", fmt.Errorf("append totals row to %s: %w", p.Key, err)
	}

	idx := len(rows)
	if err := a.ledger.MergeCells(ctx, p, idx, 0, ColInvoiceAmount); err != nil {
		return "", fmt.Errorf("merge totals label in %s: %w", p.Key, err)
	}
	if err := a.ledger.MergeCells(ctx, p, idx, ColVendorName, NumColumns); err != nil {
		return "", fmt.Errorf("merge totals tail in %s: %w", p.Key, err)
	}

	return text, nil
}

// FormatTotals sums amounts per currency symbol. Symbols appear in
// first-seen order, then the sum of symbol-less amounts if it is nonzero.
// Unparseable amounts are logged and skipped; empty amounts are ignored.
// With nothing summed the result is "0.00".
func FormatTotals(partition string, amounts []string) string {
	var order []string
	sums := make(map[string]decimal.Decimal)
	bare := decimal.Zero

	for _, raw := range amounts {
		s := Normalize(raw)
		if s == "" {
			continue
		}
		m := amountPattern.FindStringSubmatch(s)
		if m == nil {
			slog.Warn("skipping unparseable amount", "partition", partition, "amount", raw)
			continue
		}
		v, err := decimal.NewFromString(strings.ReplaceAll(m[2], ",", ""))
		if err != nil {
			slog.Warn("skipping unparseable amount", "partition", partition, "amount", raw, "error", err)
			continue
		}

		symbol := m[1]
		if symbol == "" {
			bare = bare.Add(v)
			continue
		}
		if _, seen := sums[symbol]; !seen {
			order = append(order, symbol)
		}
		sums[symbol] = sums[symbol].Add(v)
	}

	terms := make([]string, 0, len(order)+1)
	for _, symbol := range order {
		terms = append(terms, symbol+sums[symbol].StringFixed(2))
	}
	if !bare.IsZero() {
		terms = append(terms, bare.StringFixed(2))
	}
	if len(terms) == 0 {
		return "0.00"
	}
	return strings.Join(terms, " + ")
}
