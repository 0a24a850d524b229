package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// DefaultProcessedFlag is the IMAP keyword set on fully ingested messages.
const DefaultProcessedFlag = "$Ledgered"

// IMAPConfig holds connection settings for an IMAP mailbox.
type IMAPConfig struct {
	Address       string // host:port
	Username      string
	Password      string
	Mailbox       string
	ProcessedFlag string
	Insecure      bool // plain TCP, for local test servers only
}

// IMAPSource reads messages from one IMAP mailbox. Message IDs are UIDs.
type IMAPSource struct {
	cfg IMAPConfig

	mu sync.Mutex
	c  *client.Client
}

// NewIMAPSource creates a source; the connection is opened on first use.
func NewIMAPSource(cfg IMAPConfig) *IMAPSource {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.ProcessedFlag == "" {
		cfg.ProcessedFlag = DefaultProcessedFlag
	}
	return &IMAPSource{cfg: cfg}
}

func (s *IMAPSource) conn() (*client.Client, error) {
	if s.c != nil {
		return s.c, nil
	}

	var (
		c   *client.Client
		err error
	)
	if s.cfg.Insecure {
		c, err = client.Dial(s.cfg.Address)
	} else {
		c, err = client.DialTLS(s.cfg.Address, &tls.Config{MinVersion: tls.VersionTLS12})
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.Address, err)
	}

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login: %w", err)
	}

	if _, err := c.Select(s.cfg.Mailbox, false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("select %s: %w", s.cfg.Mailbox, err)
	}

	slog.Info("connected to IMAP mailbox", "address", s.cfg.Address, "mailbox", s.cfg.Mailbox)
	s.c = c
	return c, nil
}

// drop discards a connection after an error so the next call redials.
func (s *IMAPSource) drop() {
	if s.c != nil {
		s.c.Logout()
		s.c = nil
	}
}

// ListUnprocessed returns UIDs of messages without the processed flag.
func (s *IMAPSource) ListUnprocessed(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn()
	if err != nil {
		return nil, unavailable("imap list", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{s.cfg.ProcessedFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		s.drop()
		return nil, unavailable("imap search", err)
	}

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	return ids, nil
}

// Fetch downloads the full message without setting \Seen.
func (s *IMAPSource) Fetch(ctx context.Context, id string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seqset, err := uidSet(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn()
	if err != nil {
		return nil, unavailable("imap fetch", err)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var raw []byte
	var readErr error
	for m := range messages {
		body := m.GetBody(section)
		if body == nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}
	if err := <-done; err != nil {
		s.drop()
		return nil, unavailable("imap fetch", err)
	}
	if readErr != nil {
		return nil, unavailable("imap read body", readErr)
	}
	if raw == nil {
		return nil, unavailable("imap fetch", fmt.Errorf("message %s not found", id))
	}

	return Parse(id, raw)
}

// MarkProcessed sets the processed keyword on the message.
func (s *IMAPSource) MarkProcessed(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seqset, err := uidSet(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn()
	if err != nil {
		return unavailable("imap store", err)
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{s.cfg.ProcessedFlag}, nil); err != nil {
		s.drop()
		return unavailable("imap store", err)
	}
	return nil
}

// Close logs out of the server.
func (s *IMAPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	err := s.c.Logout()
	s.c = nil
	return err
}

func uidSet(id string) (*imap.SeqSet, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP uid %q: %w", id, err)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))
	return seqset, nil
}
