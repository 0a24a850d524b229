// Command inboxledger records invoice and receipt attachments from a mailbox
// in a ledger partitioned by invoice month.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/castlemilk/inboxledger/backend/internal/blob"
	"github.com/castlemilk/inboxledger/backend/internal/config"
	"github.com/castlemilk/inboxledger/backend/internal/extraction"
	"github.com/castlemilk/inboxledger/backend/internal/ledger"
	"github.com/castlemilk/inboxledger/backend/internal/mail"
	"github.com/castlemilk/inboxledger/backend/internal/pipeline"
	"github.com/castlemilk/inboxledger/backend/internal/processed"
	"github.com/castlemilk/inboxledger/backend/internal/ratelimit"
	"github.com/castlemilk/inboxledger/backend/internal/retry"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $CONFIG_PATH or ./config.yaml)")
	watch := flag.Bool("watch", false, "keep running, polling the mailbox every poll_interval")
	once := flag.Bool("once", false, "process unprocessed messages once and exit (default)")
	dryRun := flag.Bool("dry-run", false, "extract and report without writing to the ledger or blob store")
	flag.Parse()

	if *watch && *once {
		fmt.Fprintln(os.Stderr, "-watch and -once are mutually exclusive")
		os.Exit(2)
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.LogFormat, cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, *dryRun)
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	slog.Info("inboxledger starting",
		"mail", cfg.Mail.Provider,
		"ledger", cfg.Ledger.Backend,
		"blob", cfg.Blob.Backend,
		"processed_tracker", cfg.Processed.RedisURL != "",
		"dry_run", *dryRun,
		"watch", *watch,
	)

	if !*watch {
		runOnce(ctx, app.pipeline, nil)
		return
	}

	status := &healthStatus{}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:           healthMux(status),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("health server listening", "port", cfg.HealthPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server failed", "error", err)
		}
	}()

	runOnce(ctx, app.pipeline, status)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			srv.Shutdown(shutdownCtx)
			cancel()
			return
		case <-ticker.C:
			runOnce(ctx, app.pipeline, status)
		}
	}
}

// runOnce never exits the process: per-message failures are retried on the
// next run.
func runOnce(ctx context.Context, p *pipeline.Pipeline, status *healthStatus) {
	report, err := p.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "error", err)
	}
	slog.Info("run summary",
		"messages", report.Messages,
		"recorded", report.Recorded,
		"duplicates", report.Duplicates,
		"unfiled", report.Unfiled,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	if status != nil {
		status.record(report, err)
	}
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// app owns the collaborators of one pipeline.
type app struct {
	pipeline *pipeline.Pipeline
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, dryRun bool) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	source, err := buildSource(ctx, cfg, a)
	if err != nil {
		return nil, fmt.Errorf("mail source: %w", err)
	}

	limiter, err := ratelimit.New(cfg.Extraction.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	client := extraction.NewClient(extraction.ClientConfig{
		Endpoint:    cfg.Extraction.Endpoint,
		APIKey:      cfg.Extraction.APIKey,
		PollTimeout: cfg.Extraction.PollTimeout,
	})
	extractor := extraction.NewExtractor(client, limiter, extraction.Options{
		InvoiceModelID: cfg.Extraction.InvoiceModelID,
		ReceiptModelID: cfg.Extraction.ReceiptModelID,
		Retry:          cfg.Extraction.Retry,
		MaxPages:       cfg.Extraction.MaxPages,
	})

	l, err := buildLedger(ctx, cfg, a)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	l = ledger.WithRetry(l, retry.New(cfg.Ledger.Retry, ledger.IsRateLimited))

	blobs, err := buildBlobStore(ctx, cfg, a)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	a.pipeline = pipeline.New(source, extractor, l, blobs, pipeline.Options{
		StagingDir: cfg.StagingDir,
		DryRun:     dryRun,
	})
	return a, nil
}

func buildSource(ctx context.Context, cfg *config.Config, a *app) (mail.Source, error) {
	var source mail.Source
	switch cfg.Mail.Provider {
	case config.MailGmail:
		gs, err := mail.NewGmailSource(ctx, mail.GmailConfig{
			ClientID:       cfg.Mail.GmailClientID,
			ClientSecret:   cfg.Mail.GmailClientSecret,
			RefreshToken:   cfg.Mail.GmailRefreshToken,
			Query:          cfg.Mail.GmailQuery,
			ProcessedLabel: cfg.Mail.GmailLabel,
		})
		if err != nil {
			return nil, err
		}
		source = gs
	default:
		is := mail.NewIMAPSource(mail.IMAPConfig{
			Address:       cfg.Mail.IMAPAddress,
			Username:      cfg.Mail.IMAPUsername,
			Password:      cfg.Mail.IMAPPassword,
			Mailbox:       cfg.Mail.IMAPMailbox,
			ProcessedFlag: cfg.Mail.ProcessedFlag,
			Insecure:      cfg.Mail.IMAPInsecure,
		})
		a.closers = append(a.closers, is.Close)
		source = is
	}

	if cfg.Processed.RedisURL == "" {
		return source, nil
	}
	tracker, err := processed.NewRedisTrackerFromURL(ctx, cfg.Processed.RedisURL, cfg.Processed.TTL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, tracker.Close)
	return processed.Wrap(source, tracker), nil
}

func googleOptions(credentialsFile string) []option.ClientOption {
	if credentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
}

func buildLedger(ctx context.Context, cfg *config.Config, a *app) (ledger.Ledger, error) {
	switch cfg.Ledger.Backend {
	case config.LedgerSheets:
		return ledger.NewSheetsLedger(ctx, cfg.Ledger.SpreadsheetID, googleOptions(cfg.Ledger.CredentialsFile)...)
	case config.LedgerFirestore:
		client, err := firestore.NewClient(ctx, cfg.Ledger.ProjectID, googleOptions(cfg.Ledger.CredentialsFile)...)
		if err != nil {
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return ledger.NewFirestoreLedger(client), nil
	default:
		slog.Warn("using in-memory ledger, rows are lost on exit")
		return ledger.NewMemoryLedger(), nil
	}
}

func buildBlobStore(ctx context.Context, cfg *config.Config, a *app) (blob.Store, error) {
	switch cfg.Blob.Backend {
	case config.BlobDrive:
		return blob.NewDriveStore(ctx, cfg.Blob.RootFolderID, googleOptions(cfg.Blob.CredentialsFile)...)
	case config.BlobGCS:
		client, err := storage.NewClient(ctx, googleOptions(cfg.Blob.CredentialsFile)...)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return blob.NewGCSStore(client, cfg.Blob.Bucket, cfg.Blob.Prefix), nil
	default:
		slog.Warn("using in-memory blob store, attachments are lost on exit")
		return blob.NewMemoryStore(), nil
	}
}

// healthStatus is the last run as reported by /health.
type healthStatus struct {
	mu      sync.RWMutex
	lastRun time.Time
	report  pipeline.RunReport
	lastErr string
}

func (s *healthStatus) record(r pipeline.RunReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Now().UTC()
	s.report = r
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
}

func healthMux(s *healthStatus) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		body := map[string]any{
			"status":   "ok",
			"last_run": s.lastRun,
			"report":   s.report,
		}
		if s.lastErr != "" {
			body["last_error"] = s.lastErr
		}
		s.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
	return mux
}
