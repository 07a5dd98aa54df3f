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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casalead/ingestion/internal/models"
)

// LeadStore inserts leads and serves the dedup lookups.
type LeadStore struct {
	pool *pgxpool.Pool
}

const leadColumns = `
	id, tenant_id, first_name, last_name, email, phone, phone_last4,
	registration_category, assigned_to, lead_source, property_interest,
	notes, valid_until, first_contact_at, created_at`

// FindByPhone returns the oldest lead of the tenant whose phone ends in
// phoneKey or whose stored last four digits equal last4.
func (s *LeadStore) FindByPhone(ctx context.Context, tenantID, phoneKey, last4 string) (*models.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1
		  AND (right(regexp_replace(phone, '\D', '', 'g'), 10) = $2
		       OR (phone_last4 <> '' AND phone_last4 = $3))
		ORDER BY created_at
		LIMIT 1
	`, tenantID, phoneKey, last4)
	return scanLeadOrNil(row)
}

// FindByEmailAndName returns the oldest lead of the tenant with the same
// email (case-insensitive) and the same normalized full name.
func (s *LeadStore) FindByEmailAndName(ctx context.Context, tenantID, email, normalizedName string) (*models.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1
		  AND lower(email) = $2
		  AND lower(regexp_replace(btrim(first_name || ' ' || last_name), '\s+', ' ', 'g')) = $3
		ORDER BY created_at
		LIMIT 1
	`, tenantID, email, normalizedName)
	return scanLeadOrNil(row)
}

func insertLead(ctx context.Context, q querier, l *models.Lead) error {
	_, err := q.Exec(ctx, `
		INSERT INTO leads
			(id, tenant_id, first_name, last_name, email, phone, phone_last4,
			 registration_category, assigned_to, lead_source, property_interest,
			 notes, valid_until, first_contact_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, l.ID, l.TenantID, l.FirstName, l.LastName, l.Email, l.Phone, l.PhoneLast4,
		l.RegistrationCategory, l.AssignedTo, l.LeadSource, l.PropertyInterest,
		l.Notes, l.ValidUntil, l.FirstContactAt, l.CreatedAt)
	return err
}

func scanLeadOrNil(row pgx.Row) (*models.Lead, error) {
	var l models.Lead
	var validUntil, firstContact, created *time.Time
	err := row.Scan(
		&l.ID, &l.TenantID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.PhoneLast4,
		&l.RegistrationCategory, &l.AssignedTo, &l.LeadSource, &l.PropertyInterest,
		&l.Notes, &validUntil, &firstContact, &created,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if validUntil != nil {
		l.ValidUntil = *validUntil
	}
	if firstContact != nil {
		l.FirstContactAt = *firstContact
	}
	if created != nil {
		l.CreatedAt = *created
	}
	return &l, nil
}
