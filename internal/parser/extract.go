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
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// A leading country code is required so order numbers and prices in
	// the body are not mistaken for phone numbers.
	intlPhonePattern = regexp.MustCompile(`\+\d{1,3}[\s.\-]?\(?\d{1,4}\)?(?:[\s.\-]?\d{1,4}){2,5}`)

	// labelLine matches lines that open with their own "Label:".
	labelLine = regexp.MustCompile(`^[\p{L}][\p{L} .\-]{0,29}:`)

	// Local part fragments that mark automated senders.
	automatedMarkers = []string{"noreply", "no-reply", "notifier", "notifications", "mailer"}
)

// minPhoneDigits is the shortest digit run accepted as a phone number.
const minPhoneDigits = 7

// splitLines returns the trimmed, non-empty lines of body.
func splitLines(body string) []string {
	raw := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// hasLabel reports whether line starts with label, ignoring case, and
// returns the trimmed remainder.
func hasLabel(line, label string) (string, bool) {
	if len(line) < len(label) || !strings.EqualFold(line[:len(label)], label) {
		return "", false
	}
	return strings.TrimSpace(line[len(label):]), true
}

// labeledValue finds the first line starting with any of labels. The value
// is the remainder of that line, or the following line when the label stands
// alone and that line does not open with one of the known labels.
func labeledValue(lines, labels, known []string) string {
	for i, line := range lines {
		for _, label := range labels {
			v, ok := hasLabel(line, label)
			if !ok {
				continue
			}
			if v != "" {
				return v
			}
			if i+1 < len(lines) && !startsWithAny(lines[i+1], known) {
				return lines[i+1]
			}
			return ""
		}
	}
	return ""
}

func startsWithAny(line string, labels []string) bool {
	for _, label := range labels {
		if _, ok := hasLabel(line, label); ok {
			return true
		}
	}
	return false
}

// firstEmail returns the first address in s, lowercased.
func firstEmail(s string) string {
	return strings.ToLower(emailPattern.FindString(s))
}

// scanEmail returns the first address in body that does not belong to one of
// the excluded domains and does not look automated.
func scanEmail(body string, excludedDomains []string) string {
	for _, candidate := range emailPattern.FindAllString(body, -1) {
		addr := strings.ToLower(candidate)
		if isAutomated(addr) || inDomains(addr, excludedDomains) {
			continue
		}
		return addr
	}
	return ""
}

func isAutomated(addr string) bool {
	for _, m := range automatedMarkers {
		if strings.Contains(addr, m) {
			return true
		}
	}
	return false
}

func inDomains(addr string, domains []string) bool {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return false
	}
	host := addr[at+1:]
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// phoneFrom normalizes a labeled phone value, rejecting values with too few digits.
func phoneFrom(value string) string {
	if len(contact.DigitsOnly(value)) < minPhoneDigits {
		return ""
	}
	return contact.NormalizePhone(value)
}

// scanPhone returns the first country-code-prefixed number in body.
func scanPhone(body string) string {
	for _, m := range intlPhonePattern.FindAllString(body, -1) {
		if len(contact.DigitsOnly(m)) >= contact.NationalDigits {
			return contact.NormalizePhone(m)
		}
	}
	return ""
}

// nameStop ends a name embedded in a longer sentence.
var nameStop = regexp.MustCompile(`(?i)\s+(?:sobre|para|acerca|por|en la|en el)\s|\s-\s|[:(,<|]`)

// cleanName trims a raw name candidate down to the part that can be a name.
func cleanName(raw string) string {
	name := raw
	if loc := nameStop.FindStringIndex(name); loc != nil {
		name = name[:loc[0]]
	}
	name = strings.TrimSpace(name)
	if !looksLikeName(name) {
		return ""
	}
	return name
}

// maxNameTokens allows compound given names, particles and two compound
// surnames ("María José de la Fuente Hernández García López").
const maxNameTokens = 10

// looksLikeName rejects candidates containing digits or addresses, or with
// more tokens than a person's name normally has.
func looksLikeName(s string) bool {
	if s == "" || strings.ContainsAny(s, "@0123456789") {
		return false
	}
	n := len(strings.Fields(s))
	return n >= 1 && n <= maxNameTokens
}
