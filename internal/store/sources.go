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

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casalead/ingestion/internal/models"
)

// SourceStore reads source configuration and advances sync state.
type SourceStore struct {
	pool *pgxpool.Pool
}

const sourceColumns = `
	id, tenant_id, provider, sender_addresses, default_assignee_id,
	default_category, default_lead_source, last_sync_message_id,
	total_imported, total_duplicates, total_errors, active, last_sync_at`

// ListActive returns every active source, ordered by tenant.
func (s *SourceStore) ListActive(ctx context.Context) ([]models.EmailSource, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+`
		FROM email_sources
		WHERE active
		ORDER BY tenant_id, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSources(rows)
}

// ListActiveByTenant returns the active sources of one tenant.
func (s *SourceStore) ListActiveByTenant(ctx context.Context, tenantID string) ([]models.EmailSource, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+`
		FROM email_sources
		WHERE active AND tenant_id = $1
		ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSources(rows)
}

// Get returns one source, or nil when it does not exist.
func (s *SourceStore) Get(ctx context.Context, id string) (*models.EmailSource, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceColumns+`
		FROM email_sources
		WHERE id = $1
	`, id)
	src, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return src, err
}

// Upsert writes the configuration fields of a source. Sync state
// (watermark, counters, last sync) is never touched.
func (s *SourceStore) Upsert(ctx context.Context, src models.EmailSource) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_sources
			(id, tenant_id, provider, sender_addresses, default_assignee_id,
			 default_category, default_lead_source, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id           = EXCLUDED.tenant_id,
			provider            = EXCLUDED.provider,
			sender_addresses    = EXCLUDED.sender_addresses,
			default_assignee_id = EXCLUDED.default_assignee_id,
			default_category    = EXCLUDED.default_category,
			default_lead_source = EXCLUDED.default_lead_source,
			active              = EXCLUDED.active,
			updated_at          = NOW()
	`, src.ID, src.TenantID, src.Provider, src.SenderAddresses, src.DefaultAssigneeID,
		src.DefaultCategory, src.DefaultLeadSource, src.Active)
	return err
}

// Advance records the end of a cycle for a source. The watermark is only
// replaced when newestSeenID is non-nil; counters are incremented in SQL
// so concurrent cycles cannot lose updates.
func (s *SourceStore) Advance(ctx context.Context, sourceID string, newestSeenID *string, delta models.SyncDelta) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE email_sources SET
			last_sync_message_id = COALESCE($2, last_sync_message_id),
			total_imported       = total_imported + $3,
			total_duplicates     = total_duplicates + $4,
			total_errors         = total_errors + $5,
			last_sync_at         = NOW(),
			updated_at           = NOW()
		WHERE id = $1
	`, sourceID, newestSeenID, delta.Imported, delta.Duplicates, delta.Errors)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s not found", sourceID)
	}
	return nil
}

func scanSource(row pgx.Row) (*models.EmailSource, error) {
	var src models.EmailSource
	err := row.Scan(
		&src.ID, &src.TenantID, &src.Provider, &src.SenderAddresses, &src.DefaultAssigneeID,
		&src.DefaultCategory, &src.DefaultLeadSource, &src.LastSyncMessageID,
		&src.TotalImported, &src.TotalDuplicates, &src.TotalErrors, &src.Active, &src.LastSyncAt,
	)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

func collectSources(rows pgx.Rows) ([]models.EmailSource, error) {
	var out []models.EmailSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}
