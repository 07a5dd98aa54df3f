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

// Package models defines the data structures shared across the ingestion service.
package models

import "time"

// ImportStatus is the terminal outcome recorded for a processed mail message.
type ImportStatus string

const (
	StatusSuccess    ImportStatus = "success"
	StatusDuplicate  ImportStatus = "duplicate"
	StatusParseError ImportStatus = "parse_error"
)

// EmailSource is a tenant's inbound lead channel: a set of trusted portal
// senders tied to one parser provider.
type EmailSource struct {
	ID                string
	TenantID          string
	Provider          string
	SenderAddresses   []string
	DefaultAssigneeID *string
	DefaultCategory   string
	DefaultLeadSource string
	LastSyncMessageID *string
	TotalImported     int64
	TotalDuplicates   int64
	TotalErrors       int64
	Active            bool
	LastSyncAt        *time.Time
}

// ParsedLead is the candidate contact extracted from a portal email.
// FirstName and LastName are never empty on a parsed value.
type ParsedLead struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Message          string `json:"message,omitempty"`
	PropertyInterest string `json:"property_interest,omitempty"`
	Source           string `json:"source,omitempty"`
}

// MailMessage is a fetched and decoded message from the mail API.
type MailMessage struct {
	ID       string
	ThreadID string
	Subject  string
	From     string
	Date     time.Time
	Body     string
}

// ImportLogEntry is the immutable audit row written once per
// (source, mail message) pair.
type ImportLogEntry struct {
	ID                string
	TenantID          string
	SourceID          string
	MailMessageID     string
	ThreadID          string
	Subject           string
	Sender            string
	MessageDate       *time.Time
	Status            ImportStatus
	ParsedData        *ParsedLead
	LeadID            *string
	DuplicateOfLeadID *string
	DuplicateReason   string
	ErrorMessage      string
	CreatedAt         time.Time
}

// Lead is a contact record inserted by the pipeline.
type Lead struct {
	ID                   string
	TenantID             string
	FirstName            string
	LastName             string
	Email                string
	Phone                string
	PhoneLast4           string
	RegistrationCategory string
	AssignedTo           *string
	LeadSource           string
	PropertyInterest     string
	Notes                string
	ValidUntil           time.Time
	FirstContactAt       time.Time
	CreatedAt            time.Time
}

// LeadEvent is published downstream after a lead is created.
type LeadEvent struct {
	LeadID        string `json:"lead_id"`
	TenantID      string `json:"tenant_id"`
	SourceID      string `json:"source_id"`
	MailMessageID string `json:"mail_message_id"`
	FullName      string `json:"full_name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	LeadSource    string `json:"lead_source"`
	CreatedAt     string `json:"created_at"`
}

// SyncDelta holds the counter increments applied to a source after a cycle.
type SyncDelta struct {
	Imported   int64
	Duplicates int64
	Errors     int64
}

// IsZero reports whether the delta changes no counter.
func (d SyncDelta) IsZero() bool {
	return d.Imported == 0 && d.Duplicates == 0 && d.Errors == 0
}
