// Package config loads configuration from a YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/castlemilk/inboxledger/backend/internal/ratelimit"
	"github.com/castlemilk/inboxledger/backend/internal/retry"
)

// Backend and provider names.
const (
	MailIMAP  = "imap"
	MailGmail = "gmail"

	LedgerSheets    = "sheets"
	LedgerFirestore = "firestore"
	LedgerMemory    = "memory"

	BlobDrive  = "drive"
	BlobGCS    = "gcs"
	BlobMemory = "memory"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	Mail       MailConfig
	Extraction ExtractionConfig
	Ledger     LedgerConfig
	Blob       BlobConfig
	Processed  ProcessedConfig

	StagingDir   string
	PollInterval time.Duration
	HealthPort   int

	LogFormat string // "json" or "text"
	LogLevel  string
}

type MailConfig struct {
	Provider string

	IMAPAddress   string
	IMAPUsername  string
	IMAPPassword  string
	IMAPMailbox   string
	IMAPInsecure  bool
	ProcessedFlag string

	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string
	GmailQuery        string
	GmailLabel        string
}

type ExtractionConfig struct {
	Endpoint       string
	APIKey         string
	InvoiceModelID string
	ReceiptModelID string
	MaxPages       int
	PollTimeout    time.Duration
	RateLimit      ratelimit.Config
	Retry          retry.Config
}

type LedgerConfig struct {
	Backend         string
	SpreadsheetID   string
	CredentialsFile string
	ProjectID       string // firestore
	Retry           retry.Config
}

type BlobConfig struct {
	Backend         string
	RootFolderID    string // drive
	Bucket          string // gcs
	Prefix          string // gcs
	CredentialsFile string
}

type ProcessedConfig struct {
	RedisURL string // empty disables the tracker
	TTL      time.Duration
}

// retryYAML is the YAML shape of a retry.Config.
type retryYAML struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelay   string  `yaml:"initial_delay"`
	MaxDelay       string  `yaml:"max_delay"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mail struct {
		Provider string `yaml:"provider"`
		IMAP     struct {
			Address       string `yaml:"address"`
			Username      string `yaml:"username"`
			Password      string `yaml:"password"`
			Mailbox       string `yaml:"mailbox"`
			Insecure      bool   `yaml:"insecure"`
			ProcessedFlag string `yaml:"processed_flag"`
		} `yaml:"imap"`
		Gmail struct {
			ClientID       string `yaml:"client_id"`
			ClientSecret   string `yaml:"client_secret"`
			RefreshToken   string `yaml:"refresh_token"`
			Query          string `yaml:"query"`
			ProcessedLabel string `yaml:"processed_label"`
		} `yaml:"gmail"`
	} `yaml:"mail"`
	Extraction struct {
		Endpoint    string `yaml:"endpoint"`
		APIKey      string `yaml:"api_key"`
		PollTimeout string `yaml:"poll_timeout"`
		MaxPages    int    `yaml:"max_pages"`
		Models      struct {
			Invoice string `yaml:"invoice"`
			Receipt string `yaml:"receipt"`
		} `yaml:"models"`
		RateLimit struct {
			Policy      string `yaml:"policy"`
			MaxCalls    int    `yaml:"max_calls"`
			Window      string `yaml:"window"`
			MinInterval string `yaml:"min_interval"`
		} `yaml:"rate_limit"`
		Retry retryYAML `yaml:"retry"`
	} `yaml:"extraction"`
	Ledger struct {
		Backend         string    `yaml:"backend"`
		SpreadsheetID   string    `yaml:"spreadsheet_id"`
		CredentialsFile string    `yaml:"credentials_file"`
		ProjectID       string    `yaml:"project_id"`
		Retry           retryYAML `yaml:"retry"`
	} `yaml:"ledger"`
	Blob struct {
		Backend         string `yaml:"backend"`
		RootFolderID    string `yaml:"root_folder_id"`
		Bucket          string `yaml:"bucket"`
		Prefix          string `yaml:"prefix"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"blob"`
	Processed struct {
		RedisURL string `yaml:"redis_url"`
		TTL      string `yaml:"ttl"`
	} `yaml:"processed"`
	StagingDir   string `yaml:"staging_dir"`
	PollInterval string `yaml:"poll_interval"`
	HealthPort   int    `yaml:"health_port"`
	Log          struct {
		Format string `yaml:"format"`
		Level  string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads an optional .env file, then the YAML file named by CONFIG_PATH
// (with ${VAR} expansion), then environment overrides.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", "config.yaml"))
}

// LoadFile is Load with an explicit YAML path. A missing file is not an
// error; every setting can come from the environment.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	var raw rawConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := &Config{
		Mail: MailConfig{
			Provider:          firstNonEmpty(os.Getenv("MAIL_PROVIDER"), raw.Mail.Provider, MailIMAP),
			IMAPAddress:       firstNonEmpty(os.Getenv("IMAP_ADDRESS"), raw.Mail.IMAP.Address),
			IMAPUsername:      firstNonEmpty(os.Getenv("IMAP_USERNAME"), raw.Mail.IMAP.Username),
			IMAPPassword:      firstNonEmpty(os.Getenv("IMAP_PASSWORD"), raw.Mail.IMAP.Password),
			IMAPMailbox:       firstNonEmpty(raw.Mail.IMAP.Mailbox, "INBOX"),
			IMAPInsecure:      raw.Mail.IMAP.Insecure,
			ProcessedFlag:     raw.Mail.IMAP.ProcessedFlag,
			GmailClientID:     firstNonEmpty(os.Getenv("GMAIL_CLIENT_ID"), raw.Mail.Gmail.ClientID),
			GmailClientSecret: firstNonEmpty(os.Getenv("GMAIL_CLIENT_SECRET"), raw.Mail.Gmail.ClientSecret),
			GmailRefreshToken: firstNonEmpty(os.Getenv("GMAIL_REFRESH_TOKEN"), raw.Mail.Gmail.RefreshToken),
			GmailQuery:        raw.Mail.Gmail.Query,
			GmailLabel:        raw.Mail.Gmail.ProcessedLabel,
		},
		Extraction: ExtractionConfig{
			Endpoint:       firstNonEmpty(os.Getenv("DOCUMENT_INTELLIGENCE_ENDPOINT"), raw.Extraction.Endpoint),
			APIKey:         firstNonEmpty(os.Getenv("DOCUMENT_INTELLIGENCE_KEY"), raw.Extraction.APIKey),
			InvoiceModelID: raw.Extraction.Models.Invoice,
			ReceiptModelID: raw.Extraction.Models.Receipt,
			MaxPages:       raw.Extraction.MaxPages,
			PollTimeout:    parseDuration(raw.Extraction.PollTimeout, 0),
			RateLimit: ratelimit.Config{
				Policy:      firstNonEmpty(raw.Extraction.RateLimit.Policy, ratelimit.PolicySlidingWindow),
				MaxCalls:    envOrDefaultInt("EXTRACTION_MAX_CALLS", intOr(raw.Extraction.RateLimit.MaxCalls, 15)),
				Window:      parseDuration(raw.Extraction.RateLimit.Window, time.Minute),
				MinInterval: parseDuration(raw.Extraction.RateLimit.MinInterval, 0),
			},
			Retry: raw.Extraction.Retry.toConfig(retry.DefaultExtractionConfig),
		},
		Ledger: LedgerConfig{
			Backend:         firstNonEmpty(os.Getenv("LEDGER_BACKEND"), raw.Ledger.Backend, LedgerSheets),
			SpreadsheetID:   firstNonEmpty(os.Getenv("SPREADSHEET_ID"), raw.Ledger.SpreadsheetID),
			CredentialsFile: firstNonEmpty(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), raw.Ledger.CredentialsFile),
			ProjectID:       firstNonEmpty(os.Getenv("GOOGLE_CLOUD_PROJECT"), raw.Ledger.ProjectID),
			Retry:           raw.Ledger.Retry.toConfig(retry.DefaultLedgerConfig),
		},
		Blob: BlobConfig{
			Backend:         firstNonEmpty(os.Getenv("BLOB_BACKEND"), raw.Blob.Backend, BlobDrive),
			RootFolderID:    firstNonEmpty(os.Getenv("DRIVE_ROOT_FOLDER_ID"), raw.Blob.RootFolderID),
			Bucket:          firstNonEmpty(os.Getenv("GCS_BUCKET"), raw.Blob.Bucket),
			Prefix:          raw.Blob.Prefix,
			CredentialsFile: firstNonEmpty(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), raw.Blob.CredentialsFile),
		},
		Processed: ProcessedConfig{
			RedisURL: firstNonEmpty(os.Getenv("REDIS_URL"), raw.Processed.RedisURL),
			TTL:      envOrDefaultDuration("PROCESSED_TTL", parseDuration(raw.Processed.TTL, 0)),
		},
		StagingDir:   firstNonEmpty(os.Getenv("STAGING_DIR"), raw.StagingDir, os.TempDir()),
		PollInterval: envOrDefaultDuration("POLL_INTERVAL", parseDuration(raw.PollInterval, 5*time.Minute)),
		HealthPort:   envOrDefaultInt("PORT", intOr(raw.HealthPort, 8080)),
		LogFormat:    firstNonEmpty(os.Getenv("LOG_FORMAT"), raw.Log.Format, "json"),
		LogLevel:     firstNonEmpty(os.Getenv("LOG_LEVEL"), raw.Log.Level, "info"),
	}

	return cfg, nil
}

// Validate reports every missing setting required by the selected backends.
func (c *Config) Validate() error {
	var errs []error
	require := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	switch c.Mail.Provider {
	case MailIMAP:
		require(c.Mail.IMAPAddress, "mail.imap.address")
		require(c.Mail.IMAPUsername, "mail.imap.username")
		require(c.Mail.IMAPPassword, "mail.imap.password")
	case MailGmail:
		require(c.Mail.GmailClientID, "mail.gmail.client_id")
		require(c.Mail.GmailClientSecret, "mail.gmail.client_secret")
		require(c.Mail.GmailRefreshToken, "mail.gmail.refresh_token")
	default:
		errs = append(errs, fmt.Errorf("unknown mail provider %q", c.Mail.Provider))
	}

	require(c.Extraction.Endpoint, "extraction.endpoint")
	require(c.Extraction.APIKey, "extraction.api_key")
	if _, err := ratelimit.New(c.Extraction.RateLimit); err != nil {
		errs = append(errs, fmt.Errorf("extraction.rate_limit: %w", err))
	}

	switch c.Ledger.Backend {
	case LedgerSheets:
		require(c.Ledger.SpreadsheetID, "ledger.spreadsheet_id")
	case LedgerFirestore:
		require(c.Ledger.ProjectID, "ledger.project_id")
	case LedgerMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}

	switch c.Blob.Backend {
	case BlobDrive:
		require(c.Blob.RootFolderID, "blob.root_folder_id")
	case BlobGCS:
		require(c.Blob.Bucket, "blob.bucket")
	case BlobMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown blob backend %q", c.Blob.Backend))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive"))
	}

	return errors.Join(errs...)
}

func (r retryYAML) toConfig(fallback retry.Config) retry.Config {
	cfg := fallback
	if r.MaxAttempts > 0 {
		cfg.MaxAttempts = r.MaxAttempts
	}
	cfg.InitialDelay = parseDuration(r.InitialDelay, cfg.InitialDelay)
	cfg.MaxDelay = parseDuration(r.MaxDelay, cfg.MaxDelay)
	if r.BackoffFactor > 0 {
		cfg.BackoffFactor = r.BackoffFactor
	}
	if r.JitterFraction > 0 {
		cfg.JitterFraction = r.JitterFraction
	}
	return cfg
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func intOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
