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
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL + "/"
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	c, err := NewClient(context.Background(), cfg, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

// TestBuildQuery verifies the sender disjunction and the after: bound.
func TestBuildQuery(t *testing.T) {
	since := time.Unix(1700000000, 0)

	got := BuildQuery([]string{"leads@portal-a.com", " avisos@portal-b.mx "}, since)
	want := "(from:leads@portal-a.com OR from:avisos@portal-b.mx) after:1700000000"
	if got != want {
		t.Errorf("BuildQuery = %q, want %q", got, want)
	}

	if got := BuildQuery(nil, since); got != "" {
		t.Errorf("BuildQuery(nil) = %q, want empty", got)
	}
	if got := BuildQuery([]string{"", "  "}, since); got != "" {
		t.Errorf("BuildQuery(blank) = %q, want empty", got)
	}
}

// TestListCandidateMessages_StopsAtWatermark verifies paging halts at the
// previous watermark and excludes it.
func TestListCandidateMessages_StopsAtWatermark(t *testing.T) {
	pages := map[string]gmail.ListMessagesResponse{
		"": {
			Messages:      []*gmail.Message{{Id: "m5"}, {Id: "m4"}},
			NextPageToken: "p2",
		},
		"p2": {
			Messages:      []*gmail.Message{{Id: "m3"}, {Id: "m2"}, {Id: "m1"}},
			NextPageToken: "p3",
		},
	}
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/gmail/v1/users/me/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if q := r.URL.Query().Get("q"); !strings.HasPrefix(q, "(from:leads@portal-a.com) after:") {
			t.Errorf("q = %q", q)
		}
		if got := r.URL.Query().Get("maxResults"); got != "50" {
			t.Errorf("maxResults = %q, want 50", got)
		}
		page := pages[r.URL.Query().Get("pageToken")]
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	ids, err := c.ListCandidateMessages(context.Background(), []string{"leads@portal-a.com"}, time.Now().Add(-time.Hour), "m3")
	if err != nil {
		t.Fatalf("ListCandidateMessages: %v", err)
	}
	if fmt.Sprint(ids) != "[m5 m4]" {
		t.Errorf("ids = %v, want [m5 m4]", ids)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("list calls = %d, want 2", n)
	}
}

// TestListCandidateMessages_WatermarkAbsent verifies every id is new when
// the watermark is not in the listing.
func TestListCandidateMessages_WatermarkAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gmail.ListMessagesResponse{
			Messages: []*gmail.Message{{Id: "m2"}, {Id: "m1"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	ids, err := c.ListCandidateMessages(context.Background(), []string{"a@b.com"}, time.Now(), "gone")
	if err != nil {
		t.Fatalf("ListCandidateMessages: %v", err)
	}
	if fmt.Sprint(ids) != "[m2 m1]" {
		t.Errorf("ids = %v, want [m2 m1]", ids)
	}
}

// TestListCandidateMessages_PageCap verifies MaxPages bounds the walk.
func TestListCandidateMessages_PageCap(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(gmail.ListMessagesResponse{
			Messages:      []*gmail.Message{{Id: fmt.Sprintf("p%d", n)}},
			NextPageToken: fmt.Sprintf("tok%d", n),
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxPages: 2})
	ids, err := c.ListCandidateMessages(context.Background(), []string{"a@b.com"}, time.Now(), "")
	if err != nil {
		t.Fatalf("ListCandidateMessages: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2 entries", ids)
	}
}

// TestListCandidateMessages_NoSenders verifies no request is made without senders.
func TestListCandidateMessages_NoSenders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	}))
	defer srv.Close()

	ids, err := newTestClient(t, srv, Config{}).ListCandidateMessages(context.Background(), nil, time.Now(), "")
	if err != nil || ids != nil {
		t.Errorf("got %v, %v; want nil, nil", ids, err)
	}
}

// TestDo_RetriesServerErrors verifies a transient 503 is retried.
func TestDo_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"code":503,"message":"backend error"}}`))
			return
		}
		json.NewEncoder(w).Encode(gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "m1"}}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxRetries: 3})
	ids, err := c.ListCandidateMessages(context.Background(), []string{"a@b.com"}, time.Now(), "")
	if err != nil {
		t.Fatalf("ListCandidateMessages: %v", err)
	}
	if len(ids) != 1 || atomic.LoadInt32(&calls) != 2 {
		t.Errorf("ids = %v after %d calls, want 1 id after 2 calls", ids, calls)
	}
}

// TestDo_DoesNotRetryClientErrors verifies a 404 fails immediately.
func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxRetries: 3})
	_, err := c.FetchMessage(context.Background(), "missing")
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		t.Fatalf("error = %v, want googleapi 404", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

// TestDo_CircuitOpens verifies repeated failures trip the breaker.
func TestDo_CircuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxRetries: 0})
	var err error
	for i := 0; i < 6; i++ {
		_, err = c.FetchMessage(context.Background(), "m1")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
}

// TestFetchMessage_DecodesNestedMultipart verifies headers and the
// text/plain body are extracted from a nested payload.
func TestFetchMessage_DecodesNestedMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/messages/m1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(gmail.Message{
			Id:       "m1",
			ThreadId: "t1",
			Payload: &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Headers: []*gmail.MessagePartHeader{
					{Name: "Subject", Value: "Nueva consulta"},
					{Name: "From", Value: "Portal <leads@portal-a.com>"},
					{Name: "Date", Value: "Mon, 02 Mar 2026 10:15:00 -0600"},
				},
				Parts: []*gmail.MessagePart{
					{
						MimeType: "multipart/alternative",
						Parts: []*gmail.MessagePart{
							{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html</p>")}},
							{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("Nombre: Ana\nTel: 5512345678")}},
						},
					},
					{MimeType: "application/pdf", Filename: "ficha.pdf", Body: &gmail.MessagePartBody{AttachmentId: "a1"}},
				},
			},
		})
	}))
	defer srv.Close()

	msg, err := newTestClient(t, srv, Config{}).FetchMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("FetchMessage: %v", err)
	}
	if msg.ID != "m1" || msg.ThreadID != "t1" {
		t.Errorf("ids = %s/%s", msg.ID, msg.ThreadID)
	}
	if msg.Subject != "Nueva consulta" || msg.From != "Portal <leads@portal-a.com>" {
		t.Errorf("headers = %q / %q", msg.Subject, msg.From)
	}
	if msg.Body != "Nombre: Ana\nTel: 5512345678" {
		t.Errorf("body = %q", msg.Body)
	}
	if want := time.Date(2026, 3, 2, 16, 15, 0, 0, time.UTC); !msg.Date.Equal(want) {
		t.Errorf("date = %v, want %v", msg.Date, want)
	}
}

// TestDecodeBody_HTMLFallback verifies HTML is converted when no plain part exists.
func TestDecodeBody_HTMLFallback(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64(`<p>Hola&nbsp;mundo</p><p>Adi&oacute;s</p>`)}},
		},
	}
	if got := DecodeBody(payload); got != "Hola mundo\nAdiós" {
		t.Errorf("DecodeBody = %q", got)
	}
}

// TestDecodeBody_SkipsBlankPlainPart verifies a whitespace-only text/plain
// part does not shadow a later usable one.
func TestDecodeBody_SkipsBlankPlainPart(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64(" \r\n\t\n")}},
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html</p>")}},
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("Nombre: Ana")}},
				},
			},
		},
	}
	if got := DecodeBody(payload); got != "Nombre: Ana" {
		t.Errorf("DecodeBody = %q, want the non-blank plain part", got)
	}
}

// TestDecodeBody_Latin1 verifies non-UTF-8 parts are converted using
// their declared charset.
func TestDecodeBody_Latin1(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "text/plain",
		Headers:  []*gmail.MessagePartHeader{{Name: "Content-Type", Value: `text/plain; charset="ISO-8859-1"`}},
		Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("Tel\xe9fono: 123"))},
	}
	if got := DecodeBody(payload); got != "Teléfono: 123" {
		t.Errorf("DecodeBody = %q", got)
	}
}

// TestHTMLToText verifies tags are stripped, entities unescaped and block
// structure kept as lines.
func TestHTMLToText(t *testing.T) {
	src := `<html><head><style>p{color:red}</style></head><body>` +
		`<p>Hay una nueva consulta de Juan P&eacute;rez</p>` +
		`<div>Correo electr&oacute;nico: <a href="mailto:juan@example.com">juan@example.com</a></div>` +
		`<table><tr><td>M&oacute;vil:</td><td>+52 998 123 4567</td></tr></table>` +
		`<script>var x = 1;</script></body></html>`

	want := "Hay una nueva consulta de Juan Pérez\n" +
		"Correo electrónico: juan@example.com\n" +
		"Móvil: +52 998 123 4567"
	if got := HTMLToText(src); got != want {
		t.Errorf("HTMLToText =\n%q\nwant\n%q", got, want)
	}
}
