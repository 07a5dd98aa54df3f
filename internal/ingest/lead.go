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

package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/casalead/ingestion/internal/contact"
	"github.com/casalead/ingestion/internal/models"
)

// NotesPrefix labels the portal message copied into a lead's notes.
const NotesPrefix = "Mensaje del portal: "

// DefaultValidityMonths is how long a new lead stays valid.
const DefaultValidityMonths = 3

// NewLead builds the lead row for a non-duplicate candidate, filling the
// gaps from the source defaults.
func NewLead(src models.EmailSource, candidate *models.ParsedLead, now time.Time, validityMonths int) *models.Lead {
	if validityMonths <= 0 {
		validityMonths = DefaultValidityMonths
	}

	lead := &models.Lead{
		ID:                   uuid.New().String(),
		TenantID:             src.TenantID,
		FirstName:            candidate.FirstName,
		LastName:             candidate.LastName,
		Email:                contact.NormalizeEmail(candidate.Email),
		Phone:                contact.NormalizePhone(candidate.Phone),
		RegistrationCategory: src.DefaultCategory,
		AssignedTo:           src.DefaultAssigneeID,
		LeadSource:           firstNonEmpty(candidate.Source, src.DefaultLeadSource),
		PropertyInterest:     candidate.PropertyInterest,
		ValidUntil:           now.AddDate(0, validityMonths, 0),
		FirstContactAt:       now,
		CreatedAt:            now,
	}
	if lead.Phone != "" {
		lead.PhoneLast4 = contact.Last4(lead.Phone)
	}
	if msg := strings.TrimSpace(candidate.Message); msg != "" {
		lead.Notes = NotesPrefix + msg
	}
	return lead
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
