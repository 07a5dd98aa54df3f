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

// Package ingest runs import cycles: for each active email source it lists
// new portal messages, parses them, filters duplicates, creates leads and
// records every outcome in the import ledger before advancing the source's
// sync cursor.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/casalead/ingestion/internal/credential"
	"github.com/casalead/ingestion/internal/dedup"
	"github.com/casalead/ingestion/internal/mail"
	"github.com/casalead/ingestion/internal/models"
	"github.com/casalead/ingestion/internal/parser"
)

// DefaultLookback bounds how far back each cycle searches the mailbox.
const DefaultLookback = time.Hour

// MailClient lists and fetches mailbox messages.
type MailClient interface {
	ListCandidateMessages(ctx context.Context, senders []string, since time.Time, stopAt string) ([]string, error)
	FetchMessage(ctx context.Context, id string) (*models.MailMessage, error)
}

// TokenProvider yields the mail API access token.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// SourceRepository reads sources and advances their sync state.
type SourceRepository interface {
	ListActive(ctx context.Context) ([]models.EmailSource, error)
	ListActiveByTenant(ctx context.Context, tenantID string) ([]models.EmailSource, error)
	Advance(ctx context.Context, sourceID string, newestSeenID *string, delta models.SyncDelta) error
}

// Ledger is the import log. Record and RecordWithLead return false when the
// message already has a row.
type Ledger interface {
	HasBeenProcessed(ctx context.Context, sourceID, mailMessageID string) (bool, error)
	Record(ctx context.Context, entry *models.ImportLogEntry) (bool, error)
	RecordWithLead(ctx context.Context, entry *models.ImportLogEntry, lead *models.Lead) (bool, error)
}

// DuplicateChecker classifies candidates against existing leads.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, tenantID string, candidate *models.ParsedLead) (dedup.Result, error)
}

// EventPublisher announces created leads. Optional.
type EventPublisher interface {
	PublishLeadCreated(ctx context.Context, event *models.LeadEvent) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Mail    MailClient
	Tokens  TokenProvider
	Sources SourceRepository
	Ledger  Ledger
	Dedup   DuplicateChecker
	Parsers *parser.Registry
	Events  EventPublisher
}

// Config tunes a Service.
type Config struct {
	Lookback       time.Duration
	ValidityMonths int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Options narrow a single run.
type Options struct {
	// TenantID limits the run to one tenant's sources when set.
	TenantID string
	// Lookback overrides the configured search window when positive.
	Lookback time.Duration
	// IgnoreWatermark lists past each source's watermark so messages an
	// earlier capped listing never reached are replayed. The ledger skips
	// those already imported and the watermark still never moves back.
	IgnoreWatermark bool
}

// SourceResult summarises one source within a cycle.
type SourceResult struct {
	SourceID   string
	TenantID   string
	Provider   string
	Listed     int
	Imported   int64
	Duplicates int64
	Errors     int64
	Skipped    int
	// NewestID is the watermark written for the source, empty when unchanged.
	NewestID string
}

// CycleResult summarises a whole cycle.
type CycleResult struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Sources       []SourceResult
	FailedSources int
}

// Totals sums the per-source counters.
func (r *CycleResult) Totals() models.SyncDelta {
	var d models.SyncDelta
	for _, s := range r.Sources {
		d.Imported += s.Imported
		d.Duplicates += s.Duplicates
		d.Errors += s.Errors
	}
	return d
}

// Service orchestrates import cycles.
type Service struct {
	mail    MailClient
	tokens  TokenProvider
	sources SourceRepository
	ledger  Ledger
	dedup   DuplicateChecker
	parsers *parser.Registry
	events  EventPublisher
	cfg     Config
}

// NewService wires a service. A nil parser registry means the built-in one.
func NewService(deps Deps, cfg Config) *Service {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.ValidityMonths <= 0 {
		cfg.ValidityMonths = DefaultValidityMonths
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if deps.Parsers == nil {
		deps.Parsers = parser.DefaultRegistry()
	}
	return &Service{
		mail:    deps.Mail,
		tokens:  deps.Tokens,
		sources: deps.Sources,
		ledger:  deps.Ledger,
		dedup:   deps.Dedup,
		parsers: deps.Parsers,
		events:  deps.Events,
		cfg:     cfg,
	}
}

// RunCycle processes every active source once.
func (s *Service) RunCycle(ctx context.Context) (*CycleResult, error) {
	return s.Run(ctx, Options{})
}

// Run processes the selected sources once. Credential and source listing
// failures fail the run; a failing source is logged and the rest continue.
func (s *Service) Run(ctx context.Context, opts Options) (*CycleResult, error) {
	start := s.cfg.Clock()

	if _, err := s.tokens.AccessToken(ctx); err != nil {
		return nil, fmt.Errorf("obtain mail credentials: %w", err)
	}

	var (
		sources []models.EmailSource
		err     error
	)
	if opts.TenantID != "" {
		sources, err = s.sources.ListActiveByTenant(ctx, opts.TenantID)
	} else {
		sources, err = s.sources.ListActive(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list email sources: %w", err)
	}

	lookback := s.cfg.Lookback
	if opts.Lookback > 0 {
		lookback = opts.Lookback
	}
	since := start.Add(-lookback)

	result := &CycleResult{StartedAt: start}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			result.FinishedAt = s.cfg.Clock()
			return result, err
		}

		res, err := s.processSource(ctx, src, since, opts.IgnoreWatermark)
		if res != nil {
			result.Sources = append(result.Sources, *res)
		}
		if err != nil {
			result.FailedSources++
			slog.Error("source processing failed",
				"tenant", src.TenantID,
				"source", src.ID,
				"provider", src.Provider,
				"error", err,
			)
		}
	}
	result.FinishedAt = s.cfg.Clock()

	totals := result.Totals()
	slog.Info("import cycle complete",
		"sources", len(sources),
		"failed_sources", result.FailedSources,
		"imported", totals.Imported,
		"duplicates", totals.Duplicates,
		"errors", totals.Errors,
		"duration", result.FinishedAt.Sub(start),
	)
	return result, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeImported
	outcomeDuplicate
	outcomeError
)

// ProcessSource imports the messages received since since that are newer
// than the source's watermark. Messages are handled oldest first. The
// watermark only moves to a message whose outcome is in the ledger, so an
// aborted batch is resumed on the next cycle.
func (s *Service) ProcessSource(ctx context.Context, src models.EmailSource, since time.Time) (*SourceResult, error) {
	return s.processSource(ctx, src, since, false)
}

func (s *Service) processSource(ctx context.Context, src models.EmailSource, since time.Time, ignoreWatermark bool) (*SourceResult, error) {
	res := &SourceResult{SourceID: src.ID, TenantID: src.TenantID, Provider: src.Provider}

	if len(src.SenderAddresses) == 0 {
		slog.Warn("email source has no sender addresses, skipping",
			"tenant", src.TenantID,
			"source", src.ID,
		)
		return res, nil
	}

	stopAt := ""
	if src.LastSyncMessageID != nil {
		stopAt = *src.LastSyncMessageID
	}

	listStop := stopAt
	if ignoreWatermark {
		listStop = ""
	}

	ids, err := s.mail.ListCandidateMessages(ctx, src.SenderAddresses, since, listStop)
	if err != nil {
		return res, fmt.Errorf("list candidate messages: %w", err)
	}
	res.Listed = len(ids)

	// ids[:boundary] are newer than the stored watermark.
	boundary := len(ids)
	if ignoreWatermark && stopAt != "" {
		if i := slices.Index(ids, stopAt); i >= 0 {
			boundary = i
		}
	}

	strategy := s.parsers.Resolve(src.Provider)

	var (
		delta     models.SyncDelta
		watermark string
		abortErr  error
	)
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		o, err := s.processMessage(ctx, src, strategy, id)
		if err != nil {
			abortErr = fmt.Errorf("process message %s: %w", id, err)
			break
		}
		switch o {
		case outcomeImported:
			delta.Imported++
		case outcomeDuplicate:
			delta.Duplicates++
		case outcomeError:
			delta.Errors++
		case outcomeSkipped:
			res.Skipped++
		}
		if i < boundary {
			watermark = id
		}
	}

	res.Imported = delta.Imported
	res.Duplicates = delta.Duplicates
	res.Errors = delta.Errors

	var newest *string
	if watermark != "" {
		newest = &watermark
		res.NewestID = watermark
	}
	if err := s.sources.Advance(ctx, src.ID, newest, delta); err != nil {
		return res, errors.Join(abortErr, fmt.Errorf("advance sync cursor: %w", err))
	}

	if len(ids) > 0 {
		slog.Info("email source processed",
			"tenant", src.TenantID,
			"source", src.ID,
			"listed", len(ids),
			"imported", delta.Imported,
			"duplicates", delta.Duplicates,
			"errors", delta.Errors,
			"skipped", res.Skipped,
		)
	}
	return res, abortErr
}

// processMessage takes one message to a ledger row. The returned error is
// reserved for failures that make the rest of the batch pointless, such as
// an unreachable ledger or revoked credentials.
func (s *Service) processMessage(ctx context.Context, src models.EmailSource, strategy parser.Strategy, id string) (outcome, error) {
	done, err := s.ledger.HasBeenProcessed(ctx, src.ID, id)
	if err != nil {
		return 0, fmt.Errorf("check import log: %w", err)
	}
	if done {
		return outcomeSkipped, nil
	}

	msg, err := s.mail.FetchMessage(ctx, id)
	if err != nil {
		if s.systemic(ctx, err) {
			return 0, err
		}
		entry := newEntry(src, &models.MailMessage{ID: id})
		entry.Status = models.StatusParseError
		entry.ErrorMessage = fmt.Sprintf("fetch message: %v", err)
		slog.Warn("message fetch failed",
			"tenant", src.TenantID,
			"source", src.ID,
			"message_id", id,
			"error", err,
		)
		return s.record(ctx, entry, outcomeError)
	}

	entry := newEntry(src, msg)

	candidate := strategy.Parse(msg.Body, msg.Subject)
	if candidate == nil {
		entry.Status = models.StatusParseError
		entry.ErrorMessage = "no contact name found in message"
		slog.Warn("message not parseable",
			"tenant", src.TenantID,
			"source", src.ID,
			"message_id", id,
			"parser", strategy.Name(),
		)
		return s.record(ctx, entry, outcomeError)
	}
	entry.ParsedData = candidate

	dup, err := s.dedup.CheckDuplicate(ctx, src.TenantID, candidate)
	if err != nil {
		entry.Status = models.StatusParseError
		entry.ErrorMessage = fmt.Sprintf("check duplicate: %v", err)
		return s.record(ctx, entry, outcomeError)
	}
	if dup.IsDuplicate {
		matched := dup.MatchedLeadID
		entry.Status = models.StatusDuplicate
		entry.DuplicateOfLeadID = &matched
		entry.DuplicateReason = string(dup.Reason)
		slog.Info("duplicate lead skipped",
			"tenant", src.TenantID,
			"source", src.ID,
			"message_id", id,
			"duplicate_of", matched,
			"reason", dup.Reason,
		)
		return s.record(ctx, entry, outcomeDuplicate)
	}

	lead := NewLead(src, candidate, s.cfg.Clock(), s.cfg.ValidityMonths)
	entry.Status = models.StatusSuccess
	inserted, err := s.ledger.RecordWithLead(ctx, entry, lead)
	if err != nil {
		entry.Status = models.StatusParseError
		entry.LeadID = nil
		entry.ErrorMessage = fmt.Sprintf("persist lead: %v", err)
		return s.record(ctx, entry, outcomeError)
	}
	if !inserted {
		return outcomeSkipped, nil
	}

	slog.Info("lead imported",
		"tenant", src.TenantID,
		"source", src.ID,
		"message_id", id,
		"lead_id", lead.ID,
	)
	s.publish(ctx, src, id, lead)
	return outcomeImported, nil
}

func (s *Service) record(ctx context.Context, entry *models.ImportLogEntry, o outcome) (outcome, error) {
	inserted, err := s.ledger.Record(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("record import log: %w", err)
	}
	if !inserted {
		return outcomeSkipped, nil
	}
	return o, nil
}

// systemic reports errors that would fail every remaining message alike.
func (s *Service) systemic(ctx context.Context, err error) bool {
	var authErr *credential.AuthError
	return ctx.Err() != nil || errors.As(err, &authErr) || errors.Is(err, mail.ErrCircuitOpen)
}

func (s *Service) publish(ctx context.Context, src models.EmailSource, messageID string, lead *models.Lead) {
	if s.events == nil {
		return
	}
	event := &models.LeadEvent{
		LeadID:        lead.ID,
		TenantID:      lead.TenantID,
		SourceID:      src.ID,
		MailMessageID: messageID,
		FullName:      lead.FirstName + " " + lead.LastName,
		Email:         lead.Email,
		Phone:         lead.Phone,
		LeadSource:    lead.LeadSource,
		CreatedAt:     lead.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := s.events.PublishLeadCreated(ctx, event); err != nil {
		slog.Error("failed to publish lead event",
			"tenant", src.TenantID,
			"lead_id", lead.ID,
			"error", err,
		)
	}
}

func newEntry(src models.EmailSource, msg *models.MailMessage) *models.ImportLogEntry {
	entry := &models.ImportLogEntry{
		TenantID:      src.TenantID,
		SourceID:      src.ID,
		MailMessageID: msg.ID,
		ThreadID:      msg.ThreadID,
		Subject:       msg.Subject,
		Sender:        msg.From,
	}
	if !msg.Date.IsZero() {
		d := msg.Date
		entry.MessageDate = &d
	}
	return entry
}
