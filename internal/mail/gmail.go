package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// DefaultProcessedLabel is the Gmail label applied to fully ingested messages.
const DefaultProcessedLabel = "Ledgered"

// GmailConfig holds OAuth client credentials and the mailbox query.
type GmailConfig struct {
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	Query          string // extra Gmail search terms, e.g. "newer_than:30d"
	ProcessedLabel string
}

// GmailSource reads messages through the Gmail API.
type GmailSource struct {
	srv     *gmail.Service
	cfg     GmailConfig
	labelID string
}

// NewGmailSource builds a Gmail client that refreshes its access token from
// the configured refresh token.
func NewGmailSource(ctx context.Context, cfg GmailConfig) (*GmailSource, error) {
	if cfg.ProcessedLabel == "" {
		cfg.ProcessedLabel = DefaultProcessedLabel
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailModifyScope},
	}
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken, TokenType: "Bearer"}
	httpClient := oauthCfg.Client(ctx, token)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return NewGmailSourceWithService(srv, cfg), nil
}

// NewGmailSourceWithService wraps an existing Gmail service.
func NewGmailSourceWithService(srv *gmail.Service, cfg GmailConfig) *GmailSource {
	if cfg.ProcessedLabel == "" {
		cfg.ProcessedLabel = DefaultProcessedLabel
	}
	return &GmailSource{srv: srv, cfg: cfg}
}

func (s *GmailSource) query() string {
	q := fmt.Sprintf("has:attachment -label:%s", strings.ReplaceAll(s.cfg.ProcessedLabel, " ", "-"))
	if s.cfg.Query != "" {
		q += " " + s.cfg.Query
	}
	return q
}

// ListUnprocessed pages through all messages matching the query.
func (s *GmailSource) ListUnprocessed(ctx context.Context) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		call := s.srv.Users.Messages.List("me").Q(s.query()).MaxResults(500).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, unavailable("gmail list", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return ids, nil
}

// Fetch downloads the message in raw RFC 822 form and parses it.
func (s *GmailSource) Fetch(ctx context.Context, id string) (*Message, error) {
	m, err := s.srv.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, unavailable("gmail get", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(m.Raw, "="))
	if err != nil {
		return nil, fmt.Errorf("decode raw message %s: %w", id, err)
	}
	return Parse(id, raw)
}

// MarkProcessed applies the processed label, creating it on first use.
func (s *GmailSource) MarkProcessed(ctx context.Context, id string) error {
	labelID, err := s.processedLabelID(ctx)
	if err != nil {
		return err
	}
	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}}
	if _, err := s.srv.Users.Messages.Modify("me", id, req).Context(ctx).Do(); err != nil {
		return unavailable("gmail modify", err)
	}
	return nil
}

func (s *GmailSource) processedLabelID(ctx context.Context) (string, error) {
	if s.labelID != "" {
		return s.labelID, nil
	}

	labels, err := s.srv.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return "", unavailable("gmail labels", err)
	}
	for _, l := range labels.Labels {
		if strings.EqualFold(l.Name, s.cfg.ProcessedLabel) {
			s.labelID = l.Id
			return s.labelID, nil
		}
	}

	created, err := s.srv.Users.Labels.Create("me", &gmail.Label{
		Name:                  s.cfg.ProcessedLabel,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", unavailable("gmail create label", err)
	}
	slog.Info("created Gmail label", "label", s.cfg.ProcessedLabel, "id", created.Id)
	s.labelID = created.Id
	return s.labelID, nil
}
