// recompute-totals rebuilds the totals row of every ledger partition, for
// example after rows were edited or removed by hand.
//
// The script is idempotent: the totals row is always deleted and appended
// again from the current data rows.
//
// Usage:
//
//	export CONFIG_PATH=/path/to/config.yaml
//	go run ./scripts/recompute-totals/ [-partition 2024-01]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/castlemilk/inboxledger/backend/internal/config"
	"github.com/castlemilk/inboxledger/backend/internal/ledger"
	"github.com/castlemilk/inboxledger/backend/internal/retry"
)

// backend is a ledger that can also enumerate its partitions.
type backend interface {
	ledger.Ledger
	ledger.Lister
}

func main() {
	only := flag.String("partition", "", "recompute a single partition (YYYY-MM)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var opts []option.ClientOption
	if cfg.Ledger.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Ledger.CredentialsFile))
	}

	var store backend
	switch cfg.Ledger.Backend {
	case config.LedgerSheets:
		store, err = ledger.NewSheetsLedger(ctx, cfg.Ledger.SpreadsheetID, opts...)
		if err != nil {
			slog.Error("failed to create Sheets ledger", "error", err)
			os.Exit(1)
		}
	case config.LedgerFirestore:
		client, err := firestore.NewClient(ctx, cfg.Ledger.ProjectID, opts...)
		if err != nil {
			slog.Error("failed to create Firestore client", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		store = ledger.NewFirestoreLedger(client)
	default:
		slog.Error("ledger backend has nothing to recompute", "backend", cfg.Ledger.Backend)
		os.Exit(1)
	}

	partitions, err := store.ListPartitions(ctx)
	if err != nil {
		slog.Error("failed to list partitions", "error", err)
		os.Exit(1)
	}

	aggregator := ledger.NewAggregator(ledger.WithRetry(store, retry.New(cfg.Ledger.Retry, ledger.IsRateLimited)))

	var done, failed int
	for _, p := range partitions {
		if *only != "" && p.Key != *only {
			continue
		}
		totals, err := aggregator.Recompute(ctx, p)
		if err != nil {
			slog.Error("failed to recompute totals", "partition", p.Key, "error", err)
			failed++
			continue
		}
		slog.Info("recomputed totals", "partition", p.Key, "totals", totals)
		done++
	}

	slog.Info("completed", "recomputed", done, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}
