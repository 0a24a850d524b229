package extraction

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"
)

// Kind is a document format accepted by the analysis service.
type Kind string

const (
	KindUnknown Kind = ""
	KindPDF     Kind = "pdf"
	KindJPEG    Kind = "jpeg"
	KindPNG     Kind = "png"
	KindTIFF    Kind = "tiff"
	KindBMP     Kind = "bmp"
)

// DocumentInfo describes an attachment before it is sent for analysis.
type DocumentInfo struct {
	Kind      Kind
	PageCount int
}

// Inspect sniffs the document format from its leading bytes and, for PDFs,
// counts pages. Unsupported formats return ErrUnsupportedDocument so they can
// be skipped without spending analysis quota.
func Inspect(data []byte) (DocumentInfo, error) {
	kind := sniffKind(data)
	if kind == KindUnknown {
		return DocumentInfo{}, fmt.Errorf("%w: unrecognised format", ErrUnsupportedDocument)
	}

	info := DocumentInfo{Kind: kind, PageCount: 1}
	if kind == KindPDF {
		info.PageCount = countPDFPages(data)
	}
	return info, nil
}

func sniffKind(data []byte) Kind {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return KindPDF
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return KindJPEG
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return KindPNG
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return KindTIFF
	case bytes.HasPrefix(data, []byte("BM")):
		return KindBMP
	default:
		return KindUnknown
	}
}

// countPDFPages returns the page count, or 1 if the PDF cannot be parsed.
// The reader panics on some malformed files, so it runs under recover.
func countPDFPages(data []byte) (pages int) {
	pages = 1
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("recovered from panic while reading PDF", "error", r)
			pages = 1
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		slog.Debug("could not open PDF for page count", "error", err)
		return 1
	}
	if n := reader.NumPage(); n > 0 {
		pages = n
	}
	return pages
}
