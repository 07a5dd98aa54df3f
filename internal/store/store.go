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

// Package store persists email sources, the import ledger and leads in
// Postgres.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store groups the table-level stores over one pool.
type Store struct {
	Sources *SourceStore
	Ledger  *LedgerStore
	Leads   *LeadStore
	pool    *pgxpool.Pool
}

// New creates the stores and ensures the schema exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := ensureSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("lead store initialised")
	return &Store{
		Sources: &SourceStore{pool: pool},
		Ledger:  &LedgerStore{pool: pool},
		Leads:   &LeadStore{pool: pool},
		pool:    pool,
	}, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS email_sources (
			id                   TEXT PRIMARY KEY,
			tenant_id            TEXT NOT NULL,
			provider             TEXT NOT NULL,
			sender_addresses     TEXT[] NOT NULL DEFAULT '{}',
			default_assignee_id  TEXT,
			default_category     TEXT NOT NULL DEFAULT '',
			default_lead_source  TEXT NOT NULL DEFAULT '',
			last_sync_message_id TEXT,
			total_imported       BIGINT NOT NULL DEFAULT 0,
			total_duplicates     BIGINT NOT NULL DEFAULT 0,
			total_errors         BIGINT NOT NULL DEFAULT 0,
			active               BOOLEAN NOT NULL DEFAULT TRUE,
			last_sync_at         TIMESTAMPTZ,
			created_at           TIMESTAMPTZ DEFAULT NOW(),
			updated_at           TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sources_tenant ON email_sources(tenant_id);

		CREATE TABLE IF NOT EXISTS leads (
			id                    TEXT PRIMARY KEY,
			tenant_id             TEXT NOT NULL,
			first_name            TEXT NOT NULL,
			last_name             TEXT NOT NULL,
			email                 TEXT NOT NULL DEFAULT '',
			phone                 TEXT NOT NULL DEFAULT '',
			phone_last4           TEXT NOT NULL DEFAULT '',
			registration_category TEXT NOT NULL DEFAULT '',
			assigned_to           TEXT,
			lead_source           TEXT NOT NULL DEFAULT '',
			property_interest     TEXT NOT NULL DEFAULT '',
			notes                 TEXT NOT NULL DEFAULT '',
			valid_until           TIMESTAMPTZ,
			first_contact_at      TIMESTAMPTZ,
			created_at            TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_leads_tenant_last4 ON leads(tenant_id, phone_last4);
		CREATE INDEX IF NOT EXISTS idx_leads_tenant_email ON leads(tenant_id, lower(email));

		CREATE TABLE IF NOT EXISTS import_logs (
			id                   TEXT PRIMARY KEY,
			tenant_id            TEXT NOT NULL,
			source_id            TEXT NOT NULL REFERENCES email_sources(id),
			mail_message_id      TEXT NOT NULL,
			thread_id            TEXT NOT NULL DEFAULT '',
			subject              TEXT NOT NULL DEFAULT '',
			sender               TEXT NOT NULL DEFAULT '',
			message_date         TIMESTAMPTZ,
			status               TEXT NOT NULL CHECK (status IN ('success', 'duplicate', 'parse_error')),
			parsed_data          JSONB,
			lead_id              TEXT,
			duplicate_of_lead_id TEXT,
			duplicate_reason     TEXT NOT NULL DEFAULT '',
			error_message        TEXT NOT NULL DEFAULT '',
			created_at           TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(source_id, mail_message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_import_logs_status ON import_logs(source_id, status);
	`)
	return err
}
