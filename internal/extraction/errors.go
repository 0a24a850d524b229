package extraction

import (
	"errors"
	"fmt"
)

// ExtractionErrorCode represents specific extraction error types.
type ExtractionErrorCode string

const (
	ErrCodeQuotaExceeded      ExtractionErrorCode = "QUOTA_EXCEEDED"
	ErrCodeServiceUnavailable ExtractionErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeServiceTimeout     ExtractionErrorCode = "SERVICE_TIMEOUT"
	ErrCodeAnalysisFailed     ExtractionErrorCode = "ANALYSIS_FAILED"
	ErrCodeInvalidResponse    ExtractionErrorCode = "INVALID_RESPONSE"
)

var (
	// ErrQuotaExceeded matches transient quota or rate-limit rejections.
	ErrQuotaExceeded = errors.New("extraction quota exceeded")
	// ErrExtractionFailed matches every permanent extraction failure.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrExtractionExhausted is returned when quota errors outlasted the retry budget.
	ErrExtractionExhausted = errors.New("extraction retries exhausted")
	// ErrUnsupportedDocument is returned for attachments the service cannot analyze.
	ErrUnsupportedDocument = errors.New("unsupported document")
)

// ExtractionError is a structured error for extraction failures.
type ExtractionError struct {
	Code       ExtractionErrorCode
	Message    string
	Model      string // model id, e.g. "prebuilt-invoice"
	StatusCode int    // HTTP status, 0 when no response was received
	Retryable  bool
	Cause      error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes ErrQuotaExceeded for retryable errors, ErrExtractionFailed
// otherwise, and the cause.
func (e *ExtractionError) Unwrap() []error {
	kind := ErrExtractionFailed
	if e.Retryable {
		kind = ErrQuotaExceeded
	}
	if e.Cause == nil {
		return []error{kind}
	}
	return []error{kind, e.Cause}
}

// IsRetryable returns whether this error is retryable.
func (e *ExtractionError) IsRetryable() bool {
	return e.Retryable
}

// IsQuota reports whether err is a transient quota error. It is the retry
// classifier for analysis calls.
func IsQuota(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
