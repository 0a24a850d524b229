package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestFormatTotals(t *testing.T) {
	tests := []struct {
		name    string
		amounts []string
		want    string
	}{
		{
			name:    "symbols in first-seen order then bare",
			amounts: []string{"$10.00", "€2", "7", "$5.00"},
			want:    "$15.00 + €2.00 + 7.00",
		},
		{
			name:    "thousands separators",
			amounts: []string{"£1,234.50", "£0.50"},
			want:    "£1235.00",
		},
		{
			name:    "escape symbol kept apart",
			amounts: []string{`\u20ac3.10`, "€1"},
			want:    `\u20ac3.10 + €1.00`,
		},
		{
			name:    "bad and empty amounts skipped",
			amounts: []string{"", "n/a", "EUR 5", "$1"},
			want:    "$1.00",
		},
		{
			name:    "bare total of zero omitted",
			amounts: []string{"$2", "0.00"},
			want:    "$2.00",
		},
		{
			name:    "nothing summed",
			amounts: nil,
			want:    "0.00",
		},
		{
			name:    "space after symbol",
			amounts: []string{"¥ 500", "₹100.25"},
			want:    "¥500.00 + ₹100.25",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTotals("2024-01", tt.amounts))
		})
	}
}

func amountRow(amount string) []string {
	return Row{InvoiceNumber: "n-" + amount, InvoiceAmount: amount}.Cells()
}

func TestAggregator_Recompute_KeepsSingleTotalsRowLast(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	p, err := mem.GetOrCreatePartition(ctx, "2024-01")
	require.NoError(t, err)
	agg := NewAggregator(mem)

	require.NoError(t, mem.AppendRow(ctx, p, amountRow("$10.00")))
	text, err := agg.Recompute(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "$10.00", text)

	require.NoError(t, mem.AppendRow(ctx, p, amountRow("€2")))
	require.NoError(t, mem.AppendRow(ctx, p, amountRow("7")))
	require.NoError(t, mem.AppendRow(ctx, p, amountRow("$5")))
	text, err = agg.Recompute(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "$15.00 + €2.00 + 7.00", text)

	rows, err := mem.ReadAllRows(ctx, p)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	totals := 0
	for i, r := range rows {
		if IsTotalsRow(r) {
			totals++
			assert.Equal(t, len(rows)-1, i, "totals row must be last")
			assert.Equal(t, "$15.00 + €2.00 + 7.00", r[ColInvoiceAmount])
		}
	}
	assert.Equal(t, 1, totals)

	assert.Equal(t, []MergedRange{
		{Row: 4, StartCol: 0, EndCol: ColInvoiceAmount},
		{Row: 4, StartCol: ColVendorName, EndCol: NumColumns},
	}, mem.Merges("2024-01"))
}

func TestAggregator_Recompute_EmptyPartition(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	p, err := mem.GetOrCreatePartition(ctx, "2024-02")
	require.NoError(t, err)

	text, err := NewAggregator(mem).Recompute(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "0.00", text)

	rows, err := mem.ReadAllRows(ctx, p)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, IsTotalsRow(rows[0]))
}

func TestAggregator_Recompute_DeletesExistingTotalsByIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockLedger := NewMockLedger(ctrl)
	ctx := context.Background()
	p := Partition{Key: "2024-03", ID: 7}

	existingTotals := make([]string, NumColumns)
	existingTotals[0] = TotalsSentinel
	existingTotals[ColInvoiceAmount] = "$1.00"

	wantTotals := make([]string, NumColumns)
	wantTotals[0] = TotalsSentinel
	wantTotals[ColInvoiceAmount] = "$3.00"

	gomock.InOrder(
		mockLedger.EXPECT().ReadAllRows(ctx, p).Return([][]string{
			amountRow("$1.00"),
			existingTotals,
			amountRow("$2.00"),
		}, nil),
		mockLedger.EXPECT().DeleteRow(ctx, p, 1).Return(nil),
		mockLedger.EXPECT().AppendRow(ctx, p, wantTotals).Return(nil),
		mockLedger.EXPECT().MergeCells(ctx, p, 2, 0, ColInvoiceAmount).Return(nil),
		mockLedger.EXPECT().MergeCells(ctx, p, 2, ColVendorName, NumColumns).Return(nil),
	)

	text, err := NewAggregator(mockLedger).Recompute(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "$3.00", text)
}

func TestAggregator_Recompute_PropagatesDeleteError(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockLedger := NewMockLedger(ctrl)
	ctx := context.Background()
	p := Partition{Key: "2024-03"}

	totals := make([]string, NumColumns)
	totals[0] = TotalsSentinel

	mockLedger.EXPECT().ReadAllRows(ctx, p).Return([][]string{totals}, nil)
	mockLedger.EXPECT().DeleteRow(ctx, p, 0).Return(ErrUnavailable)

	_, err := NewAggregator(mockLedger).Recompute(ctx, p)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAggregator_Recompute_DeletesEveryTotalsRowBottomUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockLedger := NewMockLedger(ctrl)
	ctx := context.Background()
	p := Partition{Key: "2024-03", ID: 7}

	stale := make([]string, NumColumns)
	stale[0] = TotalsSentinel
	stale[ColInvoiceAmount] = "$1.00"

	wantTotals := make([]string, NumColumns)
	wantTotals[0] = TotalsSentinel
	wantTotals[ColInvoiceAmount] = "$3.00"

	gomock.InOrder(
		mockLedger.EXPECT().ReadAllRows(ctx, p).Return([][]string{
			amountRow("$1.00"),
			stale,
			amountRow("$2.00"),
			stale,
		}, nil),
		mockLedger.EXPECT().DeleteRow(ctx, p, 3).Return(nil),
		mockLedger.EXPECT().DeleteRow(ctx, p, 1).Return(nil),
		mockLedger.EXPECT().AppendRow(ctx, p, wantTotals).Return(nil),
		mockLedger.EXPECT().MergeCells(ctx, p, 2, 0, ColInvoiceAmount).Return(nil),
		mockLedger.EXPECT().MergeCells(ctx, p, 2, ColVendorName, NumColumns).Return(nil),
	)

	text, err := NewAggregator(mockLedger).Recompute(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "$3.00", text)
}
