package onelogin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func newTestSource(t *testing.T, events http.HandlerFunc) (*Source, *[]string) {
	t.Helper()
	var queries []string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/oauth2/v2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "cid" || pass != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"access_token":"tok-1"}`)
	})
	mux.HandleFunc("/api/1/events", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "bearer tok-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		queries = append(queries, r.URL.RawQuery)
		events(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := &Client{
		ClientID:     "cid",
		ClientSecret: "secret",
		Host:         strings.TrimPrefix(server.URL, "http://"),
		HTTPClient:   server.Client(),
		scheme:       "http",
	}
	return NewSource(client, logr.Discard()), &queries
}

func eventsPage(cursor *string, events ...map[string]any) string {
	raw, _ := json.Marshal(map[string]any{
		"status":     map[string]any{"error": false, "code": 200},
		"pagination": map[string]any{"after_cursor": cursor},
		"data":       events,
	})
	return string(raw)
}

func TestFetchSinceAuthenticatesAndQueries(t *testing.T) {
	src, queries := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, eventsPage(nil, map[string]any{
			"id":            12345,
			"created_at":    "2024-03-01T10:00:00Z",
			"event_type_id": 5,
			"user_name":     "pat",
		}))
	})

	since := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	records, more, err := src.FetchSince(context.Background(), since)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if more {
		t.Error("final page reported more records")
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}

	rec := records[0]
	if !rec.EventTime.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("event time = %v", rec.EventTime)
	}
	if rec.NaturalKey != "12345" {
		t.Errorf("natural key = %q", rec.NaturalKey)
	}
	if rec.Data["event_type_description"] != "user logged into onelogin" {
		t.Errorf("event_type_description = %v", rec.Data["event_type_description"])
	}

	if len(*queries) != 1 {
		t.Fatalf("event queries = %d, want 1", len(*queries))
	}
	if !strings.Contains((*queries)[0], "since=2024-03-01T09%3A00%3A00Z") {
		t.Errorf("query missing since bound: %s", (*queries)[0])
	}
	if !strings.Contains((*queries)[0], "sort=created_at") {
		t.Errorf("query missing ascending sort: %s", (*queries)[0])
	}
}

func TestFetchSinceFollowsCursor(t *testing.T) {
	cursor := "page-2"
	page := 0
	src, queries := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 1 {
			fmt.Fprint(w, eventsPage(&cursor, map[string]any{
				"id": 1, "created_at": "2024-03-01T10:00:00Z", "event_type_id": 5,
			}))
			return
		}
		fmt.Fprint(w, eventsPage(nil, map[string]any{
			"id": 2, "created_at": "2024-03-01T10:05:00Z", "event_type_id": 6,
		}))
	})

	since := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	_, more, err := src.FetchSince(context.Background(), since)
	if err != nil {
		t.Fatalf("first FetchSince: %v", err)
	}
	if !more {
		t.Fatal("cursor page did not report more records")
	}

	// The cycle passes the last event time back in; the walk continues
	// from the cursor, not from a fresh since query.
	_, more, err = src.FetchSince(context.Background(), since)
	if err != nil {
		t.Fatalf("second FetchSince: %v", err)
	}
	if more {
		t.Error("final page reported more records")
	}
	if len(*queries) != 2 {
		t.Fatalf("event queries = %d, want 2", len(*queries))
	}
	if !strings.Contains((*queries)[1], "after_cursor=page-2") {
		t.Errorf("second query missing cursor: %s", (*queries)[1])
	}
}

func TestFetchSinceUnknownEventType(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, eventsPage(nil, map[string]any{
			"id": 1, "created_at": "2024-03-01T10:00:00Z", "event_type_id": 999999,
		}))
	})

	records, _, err := src.FetchSince(context.Background(), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if got := records[0].Data["event_type_description"]; got != "No Event Description Provided by OneLogin" {
		t.Errorf("event_type_description = %v", got)
	}
}

func TestFetchSinceAPIError(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":{"error":true,"code":400,"message":"bad since"}}`)
	})
	if _, _, err := src.FetchSince(context.Background(), time.Unix(0, 0)); err == nil {
		t.Fatal("API-level error not surfaced")
	}
}
