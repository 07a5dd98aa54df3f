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

// Package contact normalizes phone numbers and person names so that parsers,
// the dedup engine and the lead store agree on a single representation.
package contact

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// NationalDigits is the length of a national phone number; longer digit runs
// are assumed to carry a country prefix.
const NationalDigits = 10

// DefaultLastName is substituted when a portal only announces a single name.
const DefaultLastName = "Sin apellido"

// DigitsOnly strips every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone reduces a phone to digits and drops any country prefix,
// keeping at most the last ten digits. It is idempotent.
func NormalizePhone(s string) string {
	d := DigitsOnly(s)
	if len(d) > NationalDigits {
		d = d[len(d)-NationalDigits:]
	}
	return d
}

// Last4 returns the last four digits of a phone, or all of them when shorter.
func Last4(s string) string {
	d := DigitsOnly(s)
	if len(d) > 4 {
		return d[len(d)-4:]
	}
	return d
}

// PhoneKey is the value compared during phone dedup: the last ten digits, or
// the last four when the number is shorter than ten.
func PhoneKey(s string) string {
	d := DigitsOnly(s)
	if len(d) >= NationalDigits {
		return d[len(d)-NationalDigits:]
	}
	return Last4(d)
}

// NormalizeName builds the "first last" comparison key: case-folded with
// internal whitespace collapsed.
func NormalizeName(first, last string) string {
	full := strings.Join(strings.Fields(first+" "+last), " ")
	return cases.Fold().String(full)
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SplitFullName splits a display name into first and last name. The first
// token is the first name and the remainder the last name. It returns empty
// strings when no letters are present.
func SplitFullName(name string) (first, last string) {
	name = strings.TrimFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	fields := strings.Fields(name)
	if len(fields) == 0 || !hasLetter(name) {
		return "", ""
	}
	first = fields[0]
	if len(fields) > 1 {
		last = strings.Join(fields[1:], " ")
	} else {
		last = DefaultLastName
	}
	return first, last
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
