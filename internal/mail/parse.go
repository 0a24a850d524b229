package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // register non-UTF-8 charsets
	gomail "github.com/emersion/go-message/mail"
)

// Parse builds a Message from raw RFC 822 bytes. Body decoding failures are
// recorded on the affected Part and never fail the whole message.
func Parse(id string, raw []byte) (*Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !recoverable(err) {
		return nil, fmt.Errorf("read message %s: %w", id, err)
	}

	header := gomail.Header{Header: entity.Header}
	msg := &Message{ID: id}

	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = header.Get("Subject")
	}

	if addrs, err := header.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.From = addrs[0].String()
	} else {
		msg.From = header.Get("From")
	}

	if sent, err := header.Date(); err == nil {
		msg.SentAt = sent
	} else {
		slog.Warn("unparseable Date header", "message_id", id, "date", header.Get("Date"), "error", err)
	}

	if err := collectParts(entity, &msg.Parts); err != nil {
		slog.Warn("stopped walking malformed multipart body",
			"message_id", id,
			"parts_read", len(msg.Parts),
			"error", err,
		)
	}

	return msg, nil
}

// collectParts appends every leaf entity below e, depth first.
func collectParts(e *message.Entity, parts *[]Part) error {
	if mr := e.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil && (child == nil || !recoverable(err)) {
				return err
			}
			if err := collectParts(child, parts); err != nil {
				return err
			}
		}
	}

	*parts = append(*parts, readPart(e))
	return nil
}

func readPart(e *message.Entity) Part {
	var p Part

	if t, _, err := e.Header.ContentType(); err == nil {
		p.ContentType = strings.ToLower(t)
	}
	if disp, _, err := e.Header.ContentDisposition(); err == nil {
		p.Disposition = strings.ToLower(disp)
	}

	ah := gomail.AttachmentHeader{Header: e.Header}
	if name, err := ah.Filename(); err == nil {
		p.Filename = strings.TrimSpace(name)
	}

	body, err := io.ReadAll(e.Body)
	if err != nil {
		p.DecodeErr = fmt.Errorf("decode body: %w", err)
		return p
	}
	p.Body = body
	return p
}

// recoverable reports errors go-message returns alongside a usable entity.
func recoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
