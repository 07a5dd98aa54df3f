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

// Package parser turns the decoded text of a portal notification email into
// a candidate lead. Each listing portal has a Strategy registered under its
// provider id; unknown providers get the generic strategy.
package parser

import (
	"sort"
	"strings"
	"sync"

	"github.com/casalead/ingestion/internal/models"
)

// Strategy extracts a lead from a message body and subject. A nil result
// means no human name could be found and the message is unparseable.
// Implementations must not panic on any input.
type Strategy interface {
	Name() string
	Parse(body, subject string) *models.ParsedLead
}

// Registry maps provider ids to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	fallback   Strategy
}

// NewRegistry returns an empty registry that resolves everything to the
// generic strategy.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		fallback:   GenericParser{},
	}
}

// DefaultRegistry returns a registry with every built-in portal template.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range Templates() {
		r.Register(t.Provider, NewTemplateParser(t))
	}
	return r
}

// Register adds or replaces the strategy for a provider id.
func (r *Registry) Register(provider string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[normalizeProvider(provider)] = s
}

// Resolve returns the strategy for provider, or the generic strategy when
// the id is unknown.
func (r *Registry) Resolve(provider string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strategies[normalizeProvider(provider)]; ok {
		return s
	}
	return r.fallback
}

// Providers lists registered provider ids in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func normalizeProvider(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
