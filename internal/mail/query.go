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

package mail

import (
	"fmt"
	"strings"
	"time"
)

// BuildQuery returns the mailbox search expression matching any of the
// sender addresses, restricted to messages received after since. An empty
// sender list yields an empty query, which callers treat as "nothing to do".
func BuildQuery(senders []string, since time.Time) string {
	var clauses []string
	for _, s := range senders {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		clauses = append(clauses, "from:"+s)
	}
	if len(clauses) == 0 {
		return ""
	}
	return fmt.Sprintf("(%s) after:%d", strings.Join(clauses, " OR "), since.Unix())
}
