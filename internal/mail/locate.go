package mail

import (
	"log/slog"
)

// Attachment is a document candidate pulled out of a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// LocateAttachments returns the parts of msg that carry a named file, in
// message order. Inline text bodies are ignored. Parts whose body failed to
// decode, or that decoded to nothing, are logged and skipped.
func LocateAttachments(msg *Message) []Attachment {
	var out []Attachment
	for i, p := range msg.Parts {
		if p.Filename == "" || !p.IsAttachmentCandidate() || p.IsText() {
			continue
		}
		if p.DecodeErr != nil {
			slog.Error("failed to decode attachment, skipping",
				"message_id", msg.ID,
				"part", i,
				"attachment", p.Filename,
				"error", p.DecodeErr,
			)
			continue
		}
		if len(p.Body) == 0 {
			slog.Warn("empty attachment, skipping",
				"message_id", msg.ID,
				"part", i,
				"attachment", p.Filename,
			)
			continue
		}
		out = append(out, Attachment{
			Filename:    p.Filename,
			ContentType: p.ContentType,
			Data:        p.Body,
		})
	}
	return out
}
