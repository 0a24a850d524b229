package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestDeduplicator_IsDuplicate(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	p, err := mem.GetOrCreatePartition(ctx, "2024-01")
	require.NoError(t, err)

	recorded := Row{
		EmailDate:     "2024-01-20",
		Subject:       "Invoice",
		InvoiceNumber: "INV-1",
		InvoiceDate:   "2024-01-15",
		InvoiceAmount: "€10",
		VendorName:    "Café Rouge", // precomposed é
	}
	require.NoError(t, mem.AppendRow(ctx, p, recorded.Cells()))

	totals := make([]string, NumColumns)
	totals[0] = TotalsSentinel
	totals[ColInvoiceAmount] = "€10.00"
	require.NoError(t, mem.AppendRow(ctx, p, totals))

	dedup := NewDeduplicator(mem)

	tests := []struct {
		name string
		key  Key
		want bool
	}{
		{"exact", Key{"INV-1", "2024-01-15", "€10", "Café Rouge"}, true},
		{"surrounding whitespace", Key{" INV-1", "2024-01-15 ", "€10", "\tCafé Rouge\n"}, true},
		{"decomposed accent", Key{"INV-1", "2024-01-15", "€10", "Cafe\u0301 Rouge"}, true},
		{"different amount", Key{"INV-1", "2024-01-15", "€11", "Café Rouge"}, false},
		{"absent number differs from present", Key{"", "2024-01-15", "€10", "Café Rouge"}, false},
		{"totals row never matches", Key{"", "", "€10.00", ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dedup.IsDuplicate(ctx, p, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeduplicator_Lookup_TotalsCurrent(t *testing.T) {
	totals := make([]string, NumColumns)
	totals[0] = TotalsSentinel
	totals[ColInvoiceAmount] = "$5.00"
	data := Row{InvoiceNumber: "INV-1", InvoiceDate: "2024-01-01", InvoiceAmount: "$5"}.Cells()
	other := Row{InvoiceNumber: "INV-2", InvoiceDate: "2024-01-02", InvoiceAmount: "$6"}.Cells()
	key := NewKey("INV-1", "2024-01-01", "$5", "")

	tests := []struct {
		name string
		rows [][]string
		want Lookup
	}{
		{"empty partition", nil, Lookup{}},
		{"totals last", [][]string{data, totals}, Lookup{Duplicate: true, TotalsCurrent: true}},
		{"totals missing", [][]string{data}, Lookup{Duplicate: true}},
		{"row appended after totals", [][]string{other, totals, data}, Lookup{Duplicate: true}},
		{"two totals rows", [][]string{data, totals, other, totals}, Lookup{Duplicate: true}},
		{"not recorded", [][]string{other, totals}, Lookup{TotalsCurrent: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			mockLedger := NewMockLedger(ctrl)
			ctx := context.Background()
			p := Partition{Key: "2024-01"}
			mockLedger.EXPECT().ReadAllRows(ctx, p).Return(tt.rows, nil)

			got, err := NewDeduplicator(mockLedger).Lookup(ctx, p, key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeduplicator_ShortRowsArePadded(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockLedger := NewMockLedger(ctrl)
	ctx := context.Background()
	p := Partition{Key: "2024-01"}

	// backends drop trailing empty cells
	mockLedger.EXPECT().ReadAllRows(ctx, p).Return([][]string{
		{"2024-01-02", "09:00:00", "a@b", "s", "", "2024-01-01", "$5"},
	}, nil)

	dup, err := NewDeduplicator(mockLedger).IsDuplicate(ctx, p, NewKey("", "2024-01-01", "$5", ""))
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestDeduplicator_ReadError(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockLedger := NewMockLedger(ctrl)
	ctx := context.Background()
	p := Partition{Key: "2024-01"}

	mockLedger.EXPECT().ReadAllRows(ctx, p).Return(nil, errors.Join(ErrUnavailable, errors.New("boom")))

	_, err := NewDeduplicator(mockLedger).IsDuplicate(ctx, p, Key{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPartitionKey(t *testing.T) {
	key, err := PartitionKey("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, "2024-01", key)

	key, err = PartitionKey(" 2023-12-31 ")
	require.NoError(t, err)
	assert.Equal(t, "2023-12", key)

	_, err = PartitionKey("")
	assert.Error(t, err)
	_, err = PartitionKey("15/01/2024")
	assert.Error(t, err)
}

func TestRowFromCells_RoundTrip(t *testing.T) {
	r := Row{EmailDate: "d", EmailTime: "t", From: "f", Subject: "s", InvoiceNumber: "n",
		InvoiceDate: "id", InvoiceAmount: "a", VendorName: "v", AttachmentLink: "l"}
	assert.Equal(t, r, RowFromCells(r.Cells()))
	assert.Len(t, r.Cells(), NumColumns)
	assert.Len(t, Header, NumColumns)
}
