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
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casalead/ingestion/internal/contact"
	"github.com/casalead/ingestion/internal/models"
)

// openTestStore connects to STORE_TEST_DATABASE_URL or skips.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("STORE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STORE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := New(ctx, pool)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func seedSource(t *testing.T, s *Store) models.EmailSource {
	t.Helper()
	src := models.EmailSource{
		ID:              uuid.New().String(),
		TenantID:        "tenant-" + uuid.New().String(),
		Provider:        "easybroker",
		SenderAddresses: []string{"leads@easybroker.com"},
		DefaultCategory: "compra",
		Active:          true,
	}
	if err := s.Sources.Upsert(context.Background(), src); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return src
}

// TestAdvance_WatermarkAndCounters verifies nil ids keep the watermark and
// counters accumulate.
func TestAdvance_WatermarkAndCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s)

	newest := "msg-2"
	if err := s.Sources.Advance(ctx, src.ID, &newest, models.SyncDelta{Imported: 2, Errors: 1}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := s.Sources.Advance(ctx, src.ID, nil, models.SyncDelta{Duplicates: 1}); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	got, err := s.Sources.Get(ctx, src.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: %v, %v", got, err)
	}
	if got.LastSyncMessageID == nil || *got.LastSyncMessageID != "msg-2" {
		t.Errorf("watermark = %v, want msg-2", got.LastSyncMessageID)
	}
	if got.TotalImported != 2 || got.TotalDuplicates != 1 || got.TotalErrors != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1", got.TotalImported, got.TotalDuplicates, got.TotalErrors)
	}
	if got.LastSyncAt == nil {
		t.Error("last sync time not set")
	}

	if err := s.Sources.Advance(ctx, "missing-"+uuid.New().String(), nil, models.SyncDelta{}); err == nil {
		t.Error("expected error for unknown source")
	}
}

// TestLedger_RecordIsIdempotent verifies the unique (source, message) guard.
func TestLedger_RecordIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s)

	entry := &models.ImportLogEntry{
		TenantID:      src.TenantID,
		SourceID:      src.ID,
		MailMessageID: "msg-1",
		Status:        models.StatusParseError,
		ErrorMessage:  "no contact name found",
	}
	inserted, err := s.Ledger.Record(ctx, entry)
	if err != nil || !inserted {
		t.Fatalf("first Record = %v, %v", inserted, err)
	}

	again := *entry
	again.ID = ""
	inserted, err = s.Ledger.Record(ctx, &again)
	if err != nil || inserted {
		t.Fatalf("second Record = %v, %v; want false, nil", inserted, err)
	}

	done, err := s.Ledger.HasBeenProcessed(ctx, src.ID, "msg-1")
	if err != nil || !done {
		t.Errorf("HasBeenProcessed = %v, %v", done, err)
	}
}

// TestLedger_RecordWithLeadAndLookups verifies the transactional insert and
// both dedup queries.
func TestLedger_RecordWithLeadAndLookups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s)
	now := time.Now().UTC().Truncate(time.Second)

	lead := &models.Lead{
		ID:             uuid.New().String(),
		TenantID:       src.TenantID,
		FirstName:      "Juan",
		LastName:       "Pérez  López",
		Email:          "Juan@Example.com",
		Phone:          "9981234567",
		PhoneLast4:     "4567",
		ValidUntil:     now.AddDate(0, 3, 0),
		FirstContactAt: now,
		CreatedAt:      now,
	}
	entry := &models.ImportLogEntry{
		TenantID:      src.TenantID,
		SourceID:      src.ID,
		MailMessageID: "msg-1",
		Status:        models.StatusSuccess,
		ParsedData:    &models.ParsedLead{FirstName: "Juan", LastName: "Pérez López"},
	}
	inserted, err := s.Ledger.RecordWithLead(ctx, entry, lead)
	if err != nil || !inserted {
		t.Fatalf("RecordWithLead = %v, %v", inserted, err)
	}
	if entry.LeadID == nil || *entry.LeadID != lead.ID {
		t.Errorf("entry lead id = %v, want %s", entry.LeadID, lead.ID)
	}

	found, err := s.Leads.FindByPhone(ctx, src.TenantID, contact.PhoneKey("+52 998 123 4567"), "4567")
	if err != nil || found == nil || found.ID != lead.ID {
		t.Errorf("FindByPhone = %v, %v", found, err)
	}
	found, err = s.Leads.FindByEmailAndName(ctx, src.TenantID, "juan@example.com", contact.NormalizeName("juan", "pérez lópez"))
	if err != nil || found == nil || found.ID != lead.ID {
		t.Errorf("FindByEmailAndName = %v, %v", found, err)
	}
	found, err = s.Leads.FindByPhone(ctx, "other-tenant", "9981234567", "4567")
	if err != nil || found != nil {
		t.Errorf("FindByPhone other tenant = %v, %v", found, err)
	}

	// A second writer for the same message must not leave a second lead behind.
	dupLead := *lead
	dupLead.ID = uuid.New().String()
	dupEntry := *entry
	dupEntry.ID = ""
	dupEntry.LeadID = nil
	inserted, err = s.Ledger.RecordWithLead(ctx, &dupEntry, &dupLead)
	if err != nil || inserted {
		t.Fatalf("second RecordWithLead = %v, %v; want false, nil", inserted, err)
	}
	counts, err := s.Ledger.CountByStatus(ctx, src.ID)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[models.StatusSuccess] != 1 {
		t.Errorf("success rows = %d, want 1", counts[models.StatusSuccess])
	}
}
