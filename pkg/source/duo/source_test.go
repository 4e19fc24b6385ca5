package duo

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := &Client{
		IntegrationKey: "DIXXXXXXXXXXXXXXXXXX",
		SecretKey:      "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Host:           strings.TrimPrefix(server.URL, "http://"),
		HTTPClient:     server.Client(),
		scheme:         "http",
	}
	return client, server
}

func expectedSignature(secret, date, host, path, query string) string {
	canon := strings.Join([]string{date, "GET", strings.ToLower(host), path, query}, "\n")
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(canon))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestClientSignsRequests(t *testing.T) {
	var captured *http.Request
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		fmt.Fprint(w, `{"stat":"OK","response":[]}`)
	}))

	params := url.Values{}
	params.Set("mintime", "1000")
	if _, err := client.Call(context.Background(), "/admin/v1/logs/authentication", params); err != nil {
		t.Fatalf("Call: %v", err)
	}

	date := captured.Header.Get("Date")
	if date == "" {
		t.Fatal("request carries no Date header")
	}
	if _, err := time.Parse(time.RFC1123Z, date); err != nil {
		t.Errorf("Date header %q is not RFC 1123Z: %v", date, err)
	}

	sig := expectedSignature(client.SecretKey, date, client.Host, "/admin/v1/logs/authentication", "mintime=1000")
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(client.IntegrationKey+":"+sig))
	if got := captured.Header.Get("Authorization"); got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}
}

func TestCanonicalParamsSortsKeys(t *testing.T) {
	params := url.Values{}
	params.Set("mintime", "1000")
	params.Set("applications", "a b")
	if got := canonicalParams(params); got != "applications=a+b&mintime=1000" {
		t.Errorf("canonicalParams = %q", got)
	}
}

func TestFetchSinceAsksPastCheckpoint(t *testing.T) {
	var gotMintime string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMintime = r.URL.Query().Get("mintime")
		fmt.Fprint(w, `{"stat":"OK","response":[{"timestamp":1001,"username":"pat"}]}`)
	}))
	src, err := NewSource(client, "auth", logr.Discard())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	records, more, err := src.FetchSince(context.Background(), time.Unix(1000, 0).UTC())
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if gotMintime != "1001" {
		t.Errorf("mintime = %s, want 1001 (one past the checkpoint)", gotMintime)
	}
	if more {
		t.Error("short page reported more records")
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if !records[0].EventTime.Equal(time.Unix(1001, 0).UTC()) {
		t.Errorf("event time = %v", records[0].EventTime)
	}
	if records[0].Data["username"] != "pat" {
		t.Errorf("payload = %v", records[0].Data)
	}
}

func TestFetchSinceReportsFullPage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events := make([]map[string]any, pageSize)
		for i := range events {
			events[i] = map[string]any{"timestamp": 1000 + i}
		}
		json.NewEncoder(w).Encode(map[string]any{"stat": "OK", "response": events})
	}))
	src, err := NewSource(client, "auth", logr.Discard())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	records, more, err := src.FetchSince(context.Background(), time.Unix(999, 0))
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(records) != pageSize {
		t.Fatalf("records = %d, want %d", len(records), pageSize)
	}
	if !more {
		t.Error("full page did not report more records")
	}
}

func TestFetchSinceRetriesTransientFailures(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "throttled", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"stat":"OK","response":[]}`)
	}))
	src, err := NewSource(client, "admin", logr.Discard())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	src.sleep = func(context.Context, time.Duration) error { return nil }

	if _, _, err := src.FetchSince(context.Background(), time.Unix(0, 0)); err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if calls != 3 {
		t.Errorf("API calls = %d, want 3", calls)
	}
}

func TestFetchSinceGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	src, err := NewSource(client, "admin", logr.Discard())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	src.sleep = func(context.Context, time.Duration) error { return nil }

	if _, _, err := src.FetchSince(context.Background(), time.Unix(0, 0)); err == nil {
		t.Fatal("FetchSince succeeded against a dead API")
	}
	if calls != maxAttempts {
		t.Errorf("API calls = %d, want %d", calls, maxAttempts)
	}
}

func TestNewSourceRejectsUnknownSubAPI(t *testing.T) {
	if _, err := NewSource(&Client{}, "billing", logr.Discard()); err == nil {
		t.Fatal("unknown sub-API accepted")
	}
}

func TestNormalizeDescriptionRenamesHardtokens(t *testing.T) {
	desc := map[string]any{
		"hardtokens": map[string]any{
			"hardtoken-ab-1234": map[string]any{"totp_step": ""},
			"hardtoken-cd-5678": map[string]any{"totp_step": ""},
		},
	}
	raw, _ := json.Marshal(desc)
	event := map[string]any{"timestamp": float64(1000), "description": string(raw)}

	normalizeDescription(event, logr.Discard())

	got, ok := event["description"].(map[string]any)
	if !ok {
		t.Fatalf("description not re-parsed: %T", event["description"])
	}
	if _, present := got["hardtokens"]; present {
		t.Error("hardtokens key survived normalization")
	}
	first, ok := got["hardtoken_1"].(map[string]any)
	if !ok {
		t.Fatal("hardtoken_1 missing")
	}
	if first["platform"] != "ab" || first["serialnumber"] != "1234" {
		t.Errorf("hardtoken_1 = %v", first)
	}
	second, ok := got["hardtoken_2"].(map[string]any)
	if !ok {
		t.Fatal("hardtoken_2 missing")
	}
	if second["platform"] != "cd" || second["serialnumber"] != "5678" {
		t.Errorf("hardtoken_2 = %v", second)
	}
}

func TestNormalizeDescriptionLeavesFreeTextAlone(t *testing.T) {
	event := map[string]any{"description": "Changed the phone number."}
	normalizeDescription(event, logr.Discard())
	if event["description"] != "Changed the phone number." {
		t.Errorf("free-text description rewritten: %v", event["description"])
	}
}

func TestNormalizeDescriptionKeepsUnexpectedTokenKeys(t *testing.T) {
	desc := map[string]any{
		"hardtokens": map[string]any{"weird_key": map[string]any{}},
	}
	raw, _ := json.Marshal(desc)
	event := map[string]any{"description": string(raw)}

	normalizeDescription(event, logr.Discard())

	got := event["description"].(map[string]any)
	if _, present := got["hardtokens"]; !present {
		t.Error("unparsable token key should leave hardtokens untouched")
	}
}
