// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// CasaLead: Lead Import Backfill Command
//
// Standalone CLI tool that runs one import cycle with a custom lookback
// window, for seeding leads on new deployments or recovering after an
// outage. It shares the import ledger with the worker, so messages already
// imported are skipped.
//
// Usage:
//
//	go run ./cmd/backfill/ [--tenant <tenant-id>] [--lookback 168h] [--ignore-watermark]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/casalead/ingestion/internal/config"
	"github.com/casalead/ingestion/internal/credential"
	"github.com/casalead/ingestion/internal/dedup"
	"github.com/casalead/ingestion/internal/ingest"
	"github.com/casalead/ingestion/internal/lock"
	"github.com/casalead/ingestion/internal/mail"
	"github.com/casalead/ingestion/internal/parser"
	"github.com/casalead/ingestion/internal/queue"
	"github.com/casalead/ingestion/internal/store"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup (lock release,
// connection close) happens before exit.
func run() int {
	// --- CLI Flags ---
	tenantFlag := flag.String("tenant", "", "Tenant id to backfill (optional; empty = all tenants)")
	lookbackFlag := flag.String("lookback", "168h", "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)")
	ignoreWatermarkFlag := flag.Bool("ignore-watermark", false, "List past each source's watermark to recover messages a capped cycle never reached")
	flag.Parse()

	lookback, err := time.ParseDuration(*lookbackFlag)
	if err != nil || lookback <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid --lookback duration %q\n\n", *lookbackFlag)
		flag.Usage()
		return 1
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	slog.Info("starting lead import backfill",
		"tenant", *tenantFlag,
		"lookback", lookback,
		"ignore_watermark", *ignoreWatermarkFlag,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		return 1
	}
	defer pgPool.Close()

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise lead store", "error", err)
		return 1
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		return 1
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.LeadEventsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		return 1
	}

	// Do not race the worker when it runs with the shared lock.
	if cfg.DistributedLock {
		release, ok, err := lock.New(rdb, "import-cycle", cfg.LockTTL).Acquire(ctx)
		if err != nil {
			slog.Error("failed to acquire import lock", "error", err)
			return 1
		}
		if !ok {
			slog.Error("an import cycle is running elsewhere, try again later")
			return 1
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				slog.Warn("failed to release import lock", "error", err)
			}
		}()
	}

	// --- Mail API ---
	creds := credential.NewCache(credential.Config{
		Hostname:      cfg.Connector.Hostname,
		ConnectorName: cfg.Connector.Name,
		IdentityToken: cfg.Connector.IdentityToken,
		RenewalToken:  cfg.Connector.RenewalToken,
	})

	// Backfills span more history than a regular cycle.
	mailClient, err := mail.NewClient(ctx, mail.Config{
		BaseURL:       cfg.Mail.BaseURL,
		PageSize:      int64(cfg.Mail.PageSize),
		MaxPages:      cfg.Mail.MaxPages * 10,
		CallTimeout:   cfg.Mail.CallTimeout,
		MaxRetries:    cfg.Mail.MaxRetries,
		Backoff:       cfg.Mail.Backoff,
		RatePerSecond: cfg.Mail.RatePerSecond,
		Burst:         cfg.Mail.Burst,
	}, creds.TokenSource(ctx))
	if err != nil {
		slog.Error("failed to create mail client", "error", err)
		return 1
	}

	svc := ingest.NewService(ingest.Deps{
		Mail:    mailClient,
		Tokens:  creds,
		Sources: st.Sources,
		Ledger:  st.Ledger,
		Dedup:   dedup.NewEngine(st.Leads),
		Parsers: parser.DefaultRegistry(),
		Events:  publisher,
	}, ingest.Config{
		Lookback:       cfg.Lookback,
		ValidityMonths: cfg.LeadValidityMonths,
	})

	// --- Run Backfill ---
	result, err := svc.Run(ctx, ingest.Options{
		TenantID: *tenantFlag,
		Lookback:        lookback,
		IgnoreWatermark: *ignoreWatermarkFlag,
	})
	if err != nil {
		slog.Error("backfill failed", "error", err)
		return 1
	}

	// --- Summary ---
	totals := result.Totals()
	slog.Info("backfill complete",
		"sources", len(result.Sources),
		"failed_sources", result.FailedSources,
		"imported", totals.Imported,
		"duplicates", totals.Duplicates,
		"errors", totals.Errors,
		"elapsed", result.FinishedAt.Sub(result.StartedAt),
	)

	for _, sr := range result.Sources {
		slog.Info("source result",
			"source", sr.SourceID,
			"tenant", sr.TenantID,
			"provider", sr.Provider,
			"listed", sr.Listed,
			"imported", sr.Imported,
			"duplicates", sr.Duplicates,
			"errors", sr.Errors,
			"skipped", sr.Skipped,
		)
	}

	if result.FailedSources > 0 {
		return 2
	}
	return 0
}
