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

// Package dedup decides whether a parsed lead matches a contact the tenant
// already has. A phone match wins over an email and name match.
package dedup

import (
	"context"
	"fmt"

	"github.com/casalead/ingestion/internal/contact"
	"github.com/casalead/ingestion/internal/models"
)

// Reason explains why a candidate was classified as a duplicate.
type Reason string

const (
	ReasonPhone     Reason = "matching_phone"
	ReasonEmailName Reason = "matching_email_name"
)

// Result is the outcome of a duplicate check.
type Result struct {
	IsDuplicate   bool
	MatchedLeadID string
	Reason        Reason
}

// LeadFinder looks up existing leads of a tenant. Both methods return
// nil, nil when nothing matches.
type LeadFinder interface {
	// FindByPhone matches leads whose stored phone ends in phoneKey (last
	// ten digits) or whose stored last-4 equals last4.
	FindByPhone(ctx context.Context, tenantID, phoneKey, last4 string) (*models.Lead, error)
	// FindByEmailAndName matches a case-insensitive email together with the
	// normalized "first last" name.
	FindByEmailAndName(ctx context.Context, tenantID, email, normalizedName string) (*models.Lead, error)
}

// Engine runs the ordered duplicate checks.
type Engine struct {
	finder LeadFinder
}

// NewEngine creates a dedup engine backed by the given finder.
func NewEngine(finder LeadFinder) *Engine {
	return &Engine{finder: finder}
}

// CheckDuplicate classifies candidate against the tenant's existing leads.
func (e *Engine) CheckDuplicate(ctx context.Context, tenantID string, candidate *models.ParsedLead) (Result, error) {
	if candidate == nil {
		return Result{}, nil
	}

	if digits := contact.DigitsOnly(candidate.Phone); digits != "" {
		lead, err := e.finder.FindByPhone(ctx, tenantID, contact.PhoneKey(digits), contact.Last4(digits))
		if err != nil {
			return Result{}, fmt.Errorf("find lead by phone: %w", err)
		}
		if lead != nil {
			return Result{IsDuplicate: true, MatchedLeadID: lead.ID, Reason: ReasonPhone}, nil
		}
	}

	if email := contact.NormalizeEmail(candidate.Email); email != "" {
		name := contact.NormalizeName(candidate.FirstName, candidate.LastName)
		lead, err := e.finder.FindByEmailAndName(ctx, tenantID, email, name)
		if err != nil {
			return Result{}, fmt.Errorf("find lead by email and name: %w", err)
		}
		if lead != nil {
			return Result{IsDuplicate: true, MatchedLeadID: lead.ID, Reason: ReasonEmailName}, nil
		}
	}

	return Result{}, nil
}
