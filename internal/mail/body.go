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
	"bytes"
	"encoding/base64"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"google.golang.org/api/gmail/v1"
)

// DecodeBody returns the readable text of a message payload. The first
// text/plain part found in a depth-first walk wins; otherwise the first
// text/html part is converted with HTMLToText.
func DecodeBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	text, htmlBody := extractBodies(payload)
	if strings.TrimSpace(text) != "" {
		return text
	}
	if htmlBody != "" {
		return HTMLToText(htmlBody)
	}
	return ""
}

func extractBodies(part *gmail.MessagePart) (text, htmlBody string) {
	text, htmlBody = decodePart(part)

	for _, child := range part.Parts {
		childText, childHTML := extractBodies(child)
		if text == "" {
			text = childText
		}
		if htmlBody == "" {
			htmlBody = childHTML
		}
		if text != "" && htmlBody != "" {
			break
		}
	}
	return text, htmlBody
}

func decodePart(part *gmail.MessagePart) (text, htmlBody string) {
	if part.Body == nil || part.Body.Data == "" {
		return "", ""
	}
	mediaType := strings.ToLower(part.MimeType)
	if mediaType != "text/plain" && mediaType != "text/html" {
		return "", ""
	}

	raw := decodeBase64URL(part.Body.Data)
	decoded := toUTF8(raw, headerValue(part.Headers, "Content-Type"))
	if strings.TrimSpace(decoded) == "" {
		return "", ""
	}

	if mediaType == "text/plain" {
		return decoded, ""
	}
	return "", decoded
}

func decodeBase64URL(data string) []byte {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return nil
		}
	}
	return decoded
}

// toUTF8 converts a part body to UTF-8 using the charset parameter of its
// Content-Type header. Bodies that are already valid UTF-8 pass through.
func toUTF8(data []byte, contentType string) string {
	if utf8.Valid(data) {
		return string(data)
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["charset"] == "" {
		return strings.ToValidUTF8(string(data), "�")
	}
	enc, _ := charset.Lookup(params["charset"])
	if enc == nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}

func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// blockElements end a line of text when they open or close.
var blockElements = map[string]bool{
	"br": true, "p": true, "div": true, "tr": true, "li": true,
	"table": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "ul": true, "ol": true, "hr": true,
	"section": true, "article": true, "header": true, "footer": true,
}

// HTMLToText strips tags and unescapes entities, keeping one line per
// block element so line-oriented parsers see the same shape as plain text.
func HTMLToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var buf bytes.Buffer
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapseLines(buf.String())
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "head" {
				if tt == html.StartTagToken {
					skip++
				} else if tt == html.EndTagToken && skip > 0 {
					skip--
				}
				continue
			}
			if blockElements[tag] {
				buf.WriteByte('\n')
			} else if tag == "td" || tag == "th" {
				buf.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				buf.Write(z.Text())
			}
		}
	}
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
