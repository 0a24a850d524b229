package pipeline

import (
	"github.com/castlemilk/inboxledger/backend/internal/extraction"
)

// Outcome is what happened to one attachment.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnfiled   Outcome = "unfiled" // no invoice date; file parked
	OutcomeSkipped   Outcome = "skipped" // not a supported document
	OutcomeFailed    Outcome = "failed"  // retried on the next run
)

// AttachmentReport describes one processed attachment.
type AttachmentReport struct {
	Filename  string
	Outcome   Outcome
	Partition string
	Result    extraction.Result
	Err       error
}

// MessageReport describes one processed message.
type MessageReport struct {
	MessageID   string
	Attachments []AttachmentReport
}

// Failed reports whether any attachment must be retried.
func (r MessageReport) Failed() bool {
	for _, a := range r.Attachments {
		if a.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// RunReport summarises one Run. Attachment outcomes are counted per
// attachment; Failed counts messages left unprocessed.
type RunReport struct {
	Messages   int
	Recorded   int
	Duplicates int
	Unfiled    int
	Skipped    int
	Failed     int
}

func (r *RunReport) add(m MessageReport) {
	r.Messages++
	for _, a := range m.Attachments {
		switch a.Outcome {
		case OutcomeRecorded:
			r.Recorded++
		case OutcomeDuplicate:
			r.Duplicates++
		case OutcomeUnfiled:
			r.Unfiled++
		case OutcomeSkipped:
			r.Skipped++
		}
	}
	if m.Failed() {
		r.Failed++
	}
}
