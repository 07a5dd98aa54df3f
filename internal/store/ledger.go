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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casalead/ingestion/internal/models"
)

// errAlreadyRecorded rolls back a lead insert whose ledger row lost the
// race to another writer.
var errAlreadyRecorded = errors.New("import already recorded")

// LedgerStore is the append-only import log.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// HasBeenProcessed reports whether a message already has a ledger row for the source.
func (s *LedgerStore) HasBeenProcessed(ctx context.Context, sourceID, mailMessageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM import_logs
			WHERE source_id = $1 AND mail_message_id = $2
		)
	`, sourceID, mailMessageID).Scan(&exists)
	return exists, err
}

// Record appends a ledger row. It returns false when a row for the same
// (source, message) already exists.
func (s *LedgerStore) Record(ctx context.Context, entry *models.ImportLogEntry) (bool, error) {
	return insertLog(ctx, s.pool, entry)
}

// RecordWithLead inserts lead and its success row in one transaction. When
// the ledger row already exists the lead insert is rolled back and false is
// returned.
func (s *LedgerStore) RecordWithLead(ctx context.Context, entry *models.ImportLogEntry, lead *models.Lead) (bool, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertLead(ctx, tx, lead); err != nil {
			return fmt.Errorf("insert lead: %w", err)
		}
		entry.LeadID = &lead.ID
		inserted, err := insertLog(ctx, tx, entry)
		if err != nil {
			return fmt.Errorf("insert import log: %w", err)
		}
		if !inserted {
			return errAlreadyRecorded
		}
		return nil
	})
	if errors.Is(err, errAlreadyRecorded) {
		entry.LeadID = nil
		return false, nil
	}
	if err != nil {
		entry.LeadID = nil
		return false, err
	}
	return true, nil
}

// CountByStatus returns the number of ledger rows per status for a source.
func (s *LedgerStore) CountByStatus(ctx context.Context, sourceID string) (map[models.ImportStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM import_logs
		WHERE source_id = $1
		GROUP BY status
	`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.ImportStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[models.ImportStatus(status)] = n
	}
	return out, rows.Err()
}

func insertLog(ctx context.Context, q querier, entry *models.ImportLogEntry) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	var parsed []byte
	if entry.ParsedData != nil {
		b, err := json.Marshal(entry.ParsedData)
		if err != nil {
			return false, fmt.Errorf("marshal parsed data: %w", err)
		}
		parsed = b
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO import_logs
			(id, tenant_id, source_id, mail_message_id, thread_id, subject, sender,
			 message_date, status, parsed_data, lead_id, duplicate_of_lead_id,
			 duplicate_reason, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (source_id, mail_message_id) DO NOTHING
	`, entry.ID, entry.TenantID, entry.SourceID, entry.MailMessageID, entry.ThreadID,
		entry.Subject, entry.Sender, entry.MessageDate, string(entry.Status), parsed,
		entry.LeadID, entry.DuplicateOfLeadID, entry.DuplicateReason, entry.ErrorMessage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
