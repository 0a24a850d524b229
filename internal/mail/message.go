// Package mail reads messages from the inbox and locates the attachments the
// ingestion pipeline feeds to document extraction.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable wraps every failure to reach the mail source.
var ErrUnavailable = errors.New("mail source unavailable")

// Source is a read-mostly stream of inbox messages.
type Source interface {
	// ListUnprocessed returns IDs of messages not yet marked processed.
	ListUnprocessed(ctx context.Context) ([]string, error)
	// Fetch downloads and parses one message.
	Fetch(ctx context.Context, id string) (*Message, error)
	// MarkProcessed excludes the message from later ListUnprocessed calls.
	MarkProcessed(ctx context.Context, id string) error
}

// Message is a fetched email. It is never modified after Parse returns.
type Message struct {
	ID      string
	From    string
	Subject string
	SentAt  time.Time
	Parts   []Part
}

// Part is one leaf MIME entity of a message. Multipart containers are not
// recorded; a non-multipart message has exactly one part.
type Part struct {
	ContentType string
	Disposition string
	Filename    string
	Body        []byte
	DecodeErr   error // set when the body could not be decoded
}

// IsText reports whether the part is an inline text body.
func (p Part) IsText() bool {
	ct := strings.ToLower(p.ContentType)
	return (ct == "text/plain" || ct == "text/html") && !p.isAttachmentDisposition()
}

func (p Part) isAttachmentDisposition() bool {
	return strings.EqualFold(p.Disposition, "attachment")
}

// IsAttachmentCandidate reports whether the part may carry a document: either
// the disposition says attachment or the part declares a filename.
func (p Part) IsAttachmentCandidate() bool {
	return p.isAttachmentDisposition() || p.Filename != ""
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
