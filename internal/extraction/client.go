// Package extraction turns invoice and receipt attachments into structured
// ledger fields using prebuilt document analysis models.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIVersion   = "2023-07-31"
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 2 * time.Minute
	maxErrorBody        = 2048
)

// Analyzer runs one prebuilt model over a document.
type Analyzer interface {
	Analyze(ctx context.Context, modelID string, data []byte) (*AnalyzeResult, error)
}

// AnalyzeResult is the analysis payload of a finished operation.
type AnalyzeResult struct {
	ModelID   string             `json:"modelId"`
	Content   string             `json:"content"`
	Documents []AnalyzedDocument `json:"documents"`
}

// AnalyzedDocument is one document found in the input.
type AnalyzedDocument struct {
	DocType    string                   `json:"docType"`
	Fields     map[string]DocumentField `json:"fields"`
	Confidence float64                  `json:"confidence"`
}

// DocumentField is a typed field value plus the text it was read from.
type DocumentField struct {
	Type          string         `json:"type"`
	Content       string         `json:"content"`
	ValueString   string         `json:"valueString,omitempty"`
	ValueDate     string         `json:"valueDate,omitempty"`
	ValueNumber   *float64       `json:"valueNumber,omitempty"`
	ValueCurrency *CurrencyValue `json:"valueCurrency,omitempty"`
	Confidence    float64        `json:"confidence"`
}

// CurrencyValue is a monetary field value.
type CurrencyValue struct {
	Amount         float64 `json:"amount"`
	CurrencySymbol string  `json:"currencySymbol,omitempty"`
	CurrencyCode   string  `json:"currencyCode,omitempty"`
}

type operationResponse struct {
	Status        string         `json:"status"`
	AnalyzeResult *AnalyzeResult `json:"analyzeResult"`
	Error         *serviceError  `json:"error"`
}

type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientConfig holds connection settings for the document analysis service.
type ClientConfig struct {
	Endpoint     string // e.g. https://<resource>.cognitiveservices.azure.com
	APIKey       string
	APIVersion   string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Client is an HTTP client for Azure AI Document Intelligence.
type Client struct {
	endpoint     string
	apiKey       string
	apiVersion   string
	pollInterval time.Duration
	pollTimeout  time.Duration
	httpClient   *http.Client
}

// NewClient creates a new analysis client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		apiVersion:   cfg.APIVersion,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	if c.apiVersion == "" {
		c.apiVersion = defaultAPIVersion
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = defaultPollTimeout
	}
	return c
}

// Analyze submits data to the model and waits for the operation to finish.
func (c *Client) Analyze(ctx context.Context, modelID string, data []byte) (*AnalyzeResult, error) {
	opURL, err := c.submit(ctx, modelID, data)
	if err != nil {
		return nil, err
	}
	return c.poll(ctx, modelID, opURL)
}

func (c *Client) submit(ctx context.Context, modelID string, data []byte) (string, error) {
	u := fmt.Sprintf("%s/formrecognizer/documentModels/%s:analyze?api-version=%s",
		c.endpoint, url.PathEscape(modelID), url.QueryEscape(c.apiVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, modelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", classifyHTTPError(modelID, resp.StatusCode, string(body))
	}

	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", &ExtractionError{
			Code:       ErrCodeInvalidResponse,
			Message:    "analyze response has no Operation-Location header",
			Model:      modelID,
			StatusCode: resp.StatusCode,
		}
	}
	return opURL, nil
}

func (c *Client) poll(ctx context.Context, modelID, opURL string) (*AnalyzeResult, error) {
	deadline := time.Now().Add(c.pollTimeout)
	wait := c.pollInterval

	for {
		if time.Now().After(deadline) {
			return nil, &ExtractionError{
				Code:    ErrCodeServiceTimeout,
				Message: fmt.Sprintf("analysis did not finish within %s", c.pollTimeout),
				Model:   modelID,
			}
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		op, retryAfter, err := c.getOperation(ctx, modelID, opURL)
		if err != nil {
			return nil, err
		}
		wait = c.pollInterval
		if retryAfter > 0 {
			wait = retryAfter
		}
		if op == nil {
			// throttled while polling; the operation itself is still running
			continue
		}

		switch strings.ToLower(op.Status) {
		case "succeeded":
			if op.AnalyzeResult == nil {
				return nil, &ExtractionError{
					Code:    ErrCodeInvalidResponse,
					Message: "succeeded operation has no analyzeResult",
					Model:   modelID,
				}
			}
			return op.AnalyzeResult, nil
		case "failed", "canceled":
			msg := "analysis " + strings.ToLower(op.Status)
			if op.Error != nil {
				msg = fmt.Sprintf("%s: %s: %s", msg, op.Error.Code, op.Error.Message)
			}
			return nil, &ExtractionError{
				Code:    ErrCodeAnalysisFailed,
				Message: msg,
				Model:   modelID,
			}
		default:
			// notStarted, running
		}
	}
}

// getOperation fetches the operation status. A nil operation with a nil
// error means the poll was throttled and should be repeated after retryAfter.
func (c *Client) getOperation(ctx context.Context, modelID, opURL string) (*operationResponse, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, classifyTransportError(ctx, modelID, err)
	}
	defer resp.Body.Close()

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	if resp.StatusCode == http.StatusTooManyRequests {
		slog.Warn("analysis poll throttled", "model", modelID, "delay", retryAfter)
		return nil, retryAfter, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, classifyTransportError(ctx, modelID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, classifyHTTPError(modelID, resp.StatusCode, truncate(string(body), maxErrorBody))
	}

	var op operationResponse
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, 0, &ExtractionError{
			Code:       ErrCodeInvalidResponse,
			Message:    "decode operation response",
			Model:      modelID,
			StatusCode: resp.StatusCode,
			Cause:      err,
		}
	}
	return &op, retryAfter, nil
}

// classifyHTTPError converts service HTTP errors to ExtractionErrors. Only
// throttling and quota rejections are retryable.
func classifyHTTPError(modelID string, statusCode int, body string) *ExtractionError {
	if statusCode == http.StatusTooManyRequests ||
		(statusCode == http.StatusForbidden && strings.Contains(strings.ToLower(body), "quota")) {
		return &ExtractionError{
			Code:       ErrCodeQuotaExceeded,
			Message:    fmt.Sprintf("analysis quota exceeded (HTTP %d)", statusCode),
			Model:      modelID,
			StatusCode: statusCode,
			Retryable:  true,
		}
	}
	return &ExtractionError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("analysis service error (HTTP %d): %s", statusCode, body),
		Model:      modelID,
		StatusCode: statusCode,
	}
}

// classifyTransportError converts network errors. Cancellation is passed
// through unchanged so callers can stop promptly.
func classifyTransportError(ctx context.Context, modelID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	return &ExtractionError{
		Code:    ErrCodeServiceUnavailable,
		Message: "analysis request failed",
		Model:   modelID,
		Cause:   err,
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
