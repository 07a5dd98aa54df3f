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

var (
	genericNameLabel = regexp.MustCompile(`(?i)^nombre(?:\s+completo)?\s*[:\-]\s*(.+)$`)
	genericNameVerb  = regexp.MustCompile(`(?i)^(.+?)\s+(?:quiere|desea|consulta|pregunta|solicita|está interesad[oa])\b`)

	// Words that open a sentence subject which is not a person's name
	// ("El cliente quiere...", "Un usuario desea...").
	subjectStopWords = map[string]bool{
		"el": true, "la": true, "los": true, "las": true,
		"un": true, "una": true, "este": true, "esta": true,
		"cliente": true, "usuario": true, "usuaria": true,
		"alguien": true, "persona": true, "interesado": true, "interesada": true,
		"comprador": true, "compradora": true, "se": true, "usted": true,
	}
)

// GenericParser handles providers without a template. It relies on the
// body-wide email and phone scans and a few Spanish phrasing patterns for
// the name.
type GenericParser struct{}

func (GenericParser) Name() string { return ProviderGeneric }

func (GenericParser) Parse(body, subject string) *models.ParsedLead {
	lines := splitLines(body)

	first, last := contact.SplitFullName(genericName(lines))
	if first == "" {
		return nil
	}

	return &models.ParsedLead{
		FirstName: first,
		LastName:  last,
		Email:     scanEmail(body, nil),
		Phone:     scanPhone(body),
	}
}

func genericName(lines []string) string {
	for _, line := range lines {
		if m := genericNameLabel.FindStringSubmatch(line); m != nil {
			if n := cleanName(m[1]); n != "" {
				return n
			}
		}
	}
	for _, line := range lines {
		if m := genericNameVerb.FindStringSubmatch(line); m != nil && !startsWithStopWord(m[1]) {
			if n := cleanName(m[1]); n != "" {
				return n
			}
		}
	}
	return ""
}

func startsWithStopWord(s string) bool {
	fields := strings.Fields(s)
	return len(fields) > 0 && subjectStopWords[strings.ToLower(fields[0])]
}
