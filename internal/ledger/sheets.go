package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// lastColumn is the spreadsheet letter of the final ledger column.
const lastColumn = "I"

// SheetsLedger stores each partition as a worksheet of one Google
// spreadsheet. Partition.ID is the worksheet's sheetId.
type SheetsLedger struct {
	srv           *sheets.Service
	spreadsheetID string

	mu sync.Mutex // serialises partition creation
}

// NewSheetsLedger connects to the spreadsheet using the given client options
// (typically option.WithCredentialsFile).
func NewSheetsLedger(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*SheetsLedger, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return NewSheetsLedgerWithService(srv, spreadsheetID), nil
}

// NewSheetsLedgerWithService wraps an existing Sheets service.
func NewSheetsLedgerWithService(srv *sheets.Service, spreadsheetID string) *SheetsLedger {
	return &SheetsLedger{srv: srv, spreadsheetID: spreadsheetID}
}

// GetOrCreatePartition finds or adds the worksheet named key. An existing
// worksheet gets its header repaired, so a creation interrupted between
// adding the sheet and writing the header is completed by the next call.
func (s *SheetsLedger) GetOrCreatePartition(ctx context.Context, key string) (Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, err := s.srv.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return Partition{}, classifyAPIError("get spreadsheet", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == key {
			p := Partition{Key: key, ID: sh.Properties.SheetId}
			if err := s.ensureHeader(ctx, p); err != nil {
				return Partition{}, err
			}
			return p, nil
		}
	}

	resp, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: key},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return Partition{}, classifyAPIError("add sheet "+key, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return Partition{}, fmt.Errorf("add sheet %s: empty reply: %w", key, ErrUnavailable)
	}
	p := Partition{Key: key, ID: resp.Replies[0].AddSheet.Properties.SheetId}

	if err := s.writeHeader(ctx, p); err != nil {
		return Partition{}, err
	}
	slog.Info("created ledger partition", "partition", key, "sheet_id", p.ID)
	return p, nil
}

// ensureHeader writes the header into row 1 unless it is already there. A
// data row found in row 1 is pushed down first so it is never overwritten.
func (s *SheetsLedger) ensureHeader(ctx context.Context, p Partition) error {
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, a1(p.Key, "A1:"+lastColumn+"1")).Context(ctx).Do()
	if err != nil {
		return classifyAPIError("read header of "+p.Key, err)
	}

	var first []interface{}
	if len(resp.Values) > 0 {
		first = resp.Values[0]
	}
	if isHeader(first) {
		return nil
	}

	if len(first) > 0 {
		if err := s.batch(ctx, "insert header row in "+p.Key, &sheets.Request{
			InsertDimension: &sheets.InsertDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:         p.ID,
					Dimension:       "ROWS",
					StartIndex:      0,
					EndIndex:        1,
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}); err != nil {
			return err
		}
	}

	slog.Warn("repairing missing ledger header", "partition", p.Key)
	return s.writeHeader(ctx, p)
}

func (s *SheetsLedger) writeHeader(ctx context.Context, p Partition) error {
	header := &sheets.ValueRange{Values: [][]interface{}{toValues(Header)}}
	if _, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, a1(p.Key, "A1:"+lastColumn+"1"), header).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return classifyAPIError("write header of "+p.Key, err)
	}
	return nil
}

func isHeader(cells []interface{}) bool {
	if len(cells) != len(Header) {
		return false
	}
	for i, c := range cells {
		if Normalize(fmt.Sprint(c)) != Header[i] {
			return false
		}
	}
	return true
}

// ListPartitions returns the worksheets whose title is a partition key.
func (s *SheetsLedger) ListPartitions(ctx context.Context) ([]Partition, error) {
	ss, err := s.srv.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, classifyAPIError("get spreadsheet", err)
	}

	var out []Partition
	for _, sh := range ss.Sheets {
		if sh.Properties == nil || !IsPartitionKey(sh.Properties.Title) {
			continue
		}
		out = append(out, Partition{Key: sh.Properties.Title, ID: sh.Properties.SheetId})
	}
	return out, nil
}

func (s *SheetsLedger) ReadAllRows(ctx context.Context, p Partition) ([][]string, error) {
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, a1(p.Key, "A:"+lastColumn)).Context(ctx).Do()
	if err != nil {
		return nil, classifyAPIError("read "+p.Key, err)
	}
	if len(resp.Values) <= 1 {
		return [][]string{}, nil
	}

	rows := make([][]string, 0, len(resp.Values)-1)
	for _, vals := range resp.Values[1:] {
		cells := make([]string, len(vals))
		for i, v := range vals {
			cells[i] = fmt.Sprint(v)
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func (s *SheetsLedger) AppendRow(ctx context.Context, p Partition, cells []string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{toValues(cells)}}
	_, err := s.srv.Spreadsheets.Values.Append(s.spreadsheetID, a1(p.Key, "A:"+lastColumn), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return classifyAPIError("append to "+p.Key, err)
	}
	return nil
}

func (s *SheetsLedger) DeleteRow(ctx context.Context, p Partition, index int) error {
	if index < 0 {
		return fmt.Errorf("delete row %d of %s: %w", index, p.Key, ErrRowOutOfRange)
	}
	// +1 skips the header row
	start := int64(index) + 1
	return s.batch(ctx, "delete row in "+p.Key, &sheets.Request{
		DeleteDimension: &sheets.DeleteDimensionRequest{
			Range: &sheets.DimensionRange{
				SheetId:         p.ID,
				Dimension:       "ROWS",
				StartIndex:      start,
				EndIndex:        start + 1,
				ForceSendFields: []string{"SheetId", "StartIndex"},
			},
		},
	})
}

func (s *SheetsLedger) MergeCells(ctx context.Context, p Partition, rowIndex, startCol, endCol int) error {
	if rowIndex < 0 {
		return fmt.Errorf("merge row %d of %s: %w", rowIndex, p.Key, ErrRowOutOfRange)
	}
	row := int64(rowIndex) + 1
	return s.batch(ctx, "merge cells in "+p.Key, &sheets.Request{
		MergeCells: &sheets.MergeCellsRequest{
			MergeType: "MERGE_ALL",
			Range: &sheets.GridRange{
				SheetId:          p.ID,
				StartRowIndex:    row,
				EndRowIndex:      row + 1,
				StartColumnIndex: int64(startCol),
				EndColumnIndex:   int64(endCol),
				ForceSendFields:  []string{"SheetId", "StartColumnIndex"},
			},
		},
	})
}

func (s *SheetsLedger) batch(ctx context.Context, op string, reqs ...*sheets.Request) error {
	_, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
	if err != nil {
		return classifyAPIError(op, err)
	}
	return nil
}

// a1 builds an A1 range on the named worksheet.
func a1(sheet, cells string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cells
}

func toValues(cells []string) []interface{} {
	out := make([]interface{}, len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}

// rateLimitReasons are the 403 reasons Google APIs use for quota rejections.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

// classifyAPIError wraps a Google API error as ErrRateLimited (HTTP 429 or a
// 403 carrying a rate-limit reason) or ErrUnavailable.
func classifyAPIError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
		}
		if apiErr.Code == http.StatusForbidden {
			for _, item := range apiErr.Errors {
				if rateLimitReasons[item.Reason] {
					return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
				}
			}
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
