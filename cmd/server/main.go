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

// CasaLead: Email Lead Ingestion Worker
//
// Entry point for the lead ingestion service. It:
//  1. Loads source and worker configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Registers configured email sources
//  4. Wires the credential cache, mail API client, parsers and dedup engine
//  5. Runs the import worker on a fixed interval
//  6. Serves admin endpoints for health, status and manual triggers
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/casalead/ingestion/internal/admin"
	"github.com/casalead/ingestion/internal/config"
	"github.com/casalead/ingestion/internal/credential"
	"github.com/casalead/ingestion/internal/dedup"
	"github.com/casalead/ingestion/internal/ingest"
	"github.com/casalead/ingestion/internal/lock"
	"github.com/casalead/ingestion/internal/mail"
	"github.com/casalead/ingestion/internal/parser"
	"github.com/casalead/ingestion/internal/queue"
	"github.com/casalead/ingestion/internal/scheduler"
	"github.com/casalead/ingestion/internal/store"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("starting CasaLead lead ingestion service")

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"sources", len(cfg.Sources),
		"interval", cfg.WorkerInterval,
		"lookback", cfg.Lookback,
		"distributed_lock", cfg.DistributedLock,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise lead store", "error", err)
		os.Exit(1)
	}

	// --- Register configured sources ---
	for _, sc := range cfg.Sources {
		if err := st.Sources.Upsert(ctx, sc.EmailSource()); err != nil {
			slog.Error("failed to register email source",
				"source", sc.ID,
				"tenant", sc.TenantID,
				"error", err,
			)
			os.Exit(1)
		}
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.LeadEventsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Mail API ---
	creds := credential.NewCache(credential.Config{
		Hostname:      cfg.Connector.Hostname,
		ConnectorName: cfg.Connector.Name,
		IdentityToken: cfg.Connector.IdentityToken,
		RenewalToken:  cfg.Connector.RenewalToken,
	})

	mailClient, err := mail.NewClient(ctx, mail.Config{
		BaseURL:       cfg.Mail.BaseURL,
		PageSize:      int64(cfg.Mail.PageSize),
		MaxPages:      cfg.Mail.MaxPages,
		CallTimeout:   cfg.Mail.CallTimeout,
		MaxRetries:    cfg.Mail.MaxRetries,
		Backoff:       cfg.Mail.Backoff,
		RatePerSecond: cfg.Mail.RatePerSecond,
		Burst:         cfg.Mail.Burst,
	}, creds.TokenSource(context.Background()))
	if err != nil {
		slog.Error("failed to create mail client", "error", err)
		os.Exit(1)
	}

	// --- Import Service ---
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

	// --- Worker ---
	workerCfg := scheduler.Config{
		Interval:     cfg.WorkerInterval,
		InitialDelay: cfg.InitialDelay,
	}
	if cfg.DistributedLock {
		workerCfg.Lock = lock.New(rdb, "import-cycle", cfg.LockTTL)
	}
	worker := scheduler.NewWorker(svc, workerCfg)

	// --- Admin Server ---
	handler := admin.NewHandler(worker,
		admin.Check{Name: "postgres", Pinger: st},
		admin.Check{Name: "redis", Pinger: publisher},
	)
	ready, err := admin.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start admin server", "error", err)
		os.Exit(1)
	}
	<-ready

	worker.Start(ctx)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel() // Stop the timer loop and admin server

	// Waits for an in-flight cycle; it is never interrupted mid-message.
	worker.Stop()

	slog.Info("ingestion service stopped")
}
