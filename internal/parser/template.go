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

package parser

import (
	"regexp"
	"strings"

	"github.com/casalead/ingestion/internal/contact"
	"github.com/casalead/ingestion/internal/models"
)

// Template is the label vocabulary of one portal's notification email.
// Adding a portal means adding a Template to Templates.
type Template struct {
	// Provider is the registry id stored on the email source.
	Provider string
	// Source is the lead-source tag put on parsed leads.
	Source string
	// Domains are the portal's own mail domains, never taken as the lead's address.
	Domains []string

	// NameMarkers are phrases announcing the sender; the name follows on
	// the same line or on the next one.
	NameMarkers []string
	NameLabels  []string

	EmailLabels    []string
	PhoneLabels    []string
	PropertyLabels []string
	MessageLabels  []string

	// SubjectDelimiter splits the subject; the first segment is the property interest.
	SubjectDelimiter string
	// SubjectPattern captures the property interest in group 1.
	SubjectPattern string
}

type templateParser struct {
	t       Template
	markers []*regexp.Regexp
	subject *regexp.Regexp
	// known holds every label of the template; a line opening with one
	// is never taken as another label's value.
	known []string
}

// NewTemplateParser compiles a template into a Strategy. It panics on an
// invalid SubjectPattern, which is a programming error in the template table.
func NewTemplateParser(t Template) Strategy {
	p := &templateParser{t: t}
	for _, labels := range [][]string{t.NameLabels, t.EmailLabels, t.PhoneLabels, t.PropertyLabels, t.MessageLabels} {
		p.known = append(p.known, labels...)
	}
	for _, m := range t.NameMarkers {
		p.markers = append(p.markers, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(m)))
	}
	if t.SubjectPattern != "" {
		p.subject = regexp.MustCompile(t.SubjectPattern)
	}
	return p
}

func (p *templateParser) Name() string { return p.t.Provider }

// Parse runs the line-oriented extraction. Contact details without a name
// yield nil.
func (p *templateParser) Parse(body, subject string) *models.ParsedLead {
	lines := splitLines(body)

	first, last := contact.SplitFullName(p.name(lines))
	if first == "" {
		return nil
	}

	lead := &models.ParsedLead{
		FirstName: first,
		LastName:  last,
		Source:    p.t.Source,
	}

	lead.Email = firstEmail(labeledValue(lines, p.t.EmailLabels, p.known))
	if lead.Email == "" {
		lead.Email = scanEmail(body, p.t.Domains)
	}

	lead.Phone = phoneFrom(labeledValue(lines, p.t.PhoneLabels, p.known))
	if lead.Phone == "" {
		lead.Phone = scanPhone(body)
	}

	lead.PropertyInterest = labeledValue(lines, p.t.PropertyLabels, p.known)
	if lead.PropertyInterest == "" {
		lead.PropertyInterest = p.interestFromSubject(subject)
	}

	lead.Message = labeledValue(lines, p.t.MessageLabels, p.known)
	return lead
}

// name looks for the announcement marker first and the explicit name label second.
func (p *templateParser) name(lines []string) string {
	for i, line := range lines {
		for _, re := range p.markers {
			loc := re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			if n := cleanName(line[loc[1]:]); n != "" {
				return n
			}
			if i+1 < len(lines) && !labelLine.MatchString(lines[i+1]) {
				if n := cleanName(lines[i+1]); n != "" {
					return n
				}
			}
		}
	}
	return cleanName(labeledValue(lines, p.t.NameLabels, p.known))
}

func (p *templateParser) interestFromSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ""
	}
	if p.subject != nil {
		if m := p.subject.FindStringSubmatch(subject); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	if p.t.SubjectDelimiter != "" {
		first, _, _ := strings.Cut(subject, p.t.SubjectDelimiter)
		return strings.TrimSpace(first)
	}
	return ""
}
