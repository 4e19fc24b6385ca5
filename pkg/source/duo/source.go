package duo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

// pageSize is the most records Duo returns per call; a full page means more
// may follow.
const pageSize = 1000

// maxAttempts bounds consecutive failed calls before the run gives up.
const maxAttempts = 5

var logPaths = map[string]string{
	"admin": "/admin/v1/logs/administrator",
	"auth":  "/admin/v1/logs/authentication",
	"tele":  "/admin/v1/logs/telephony",
}

// Source pages through one Duo log endpoint. Duo's mintime parameter is
// inclusive, so every fetch asks for since+1 to avoid re-reading the record
// the checkpoint points at.
type Source struct {
	client *Client
	path   string
	subAPI string
	log    logr.Logger

	// sleep is a test seam for retry backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSource creates a Source for the given sub-API (admin, auth or tele).
func NewSource(client *Client, subAPI string, log logr.Logger) (*Source, error) {
	path, ok := logPaths[subAPI]
	if !ok {
		return nil, fmt.Errorf("unknown Duo sub-API: %s", subAPI)
	}
	return &Source{client: client, path: path, subAPI: subAPI, log: log, sleep: sleepCtx}, nil
}

// UsernameField names the payload field hoisted into org_username.
func (s *Source) UsernameField() string { return "username" }

func (s *Source) FetchSince(ctx context.Context, since time.Time) ([]feed.Record, bool, error) {
	params := url.Values{}
	params.Set("mintime", strconv.FormatInt(since.Unix()+1, 10))

	raw, err := s.call(ctx, params)
	if err != nil {
		return nil, false, err
	}

	var events []map[string]any
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, false, fmt.Errorf("parsing Duo %s events: %w", s.subAPI, err)
	}

	records := make([]feed.Record, 0, len(events))
	for _, event := range events {
		ts, ok := event["timestamp"].(float64)
		if !ok {
			s.log.Info("skipping event without timestamp", "subApi", s.subAPI)
			continue
		}
		normalizeDescription(event, s.log)

		rec := feed.Record{
			Data:      event,
			EventTime: time.Unix(int64(ts), 0).UTC(),
		}
		if txid, ok := event["txid"].(string); ok {
			rec.NaturalKey = txid
		}
		records = append(records, rec)
	}
	return records, len(events) == pageSize, nil
}

// call retries transient API failures with doubling waits.
func (s *Source) call(ctx context.Context, params url.Values) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, time.Duration(1<<(attempt-1))*time.Second); err != nil {
				return nil, err
			}
		}
		raw, err := s.client.Call(ctx, s.path, params)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		s.log.Info("Duo API call failed", "attempt", attempt+1, "error", err.Error())
	}
	return nil, fmt.Errorf("Duo API failed %d consecutive times: %w", maxAttempts, lastErr)
}

// normalizeDescription re-parses the JSON-in-a-string description field and
// renames its hardtoken entries. Duo documents the field as a free-form
// summary, so an unparsable description is passed through untouched.
func normalizeDescription(event map[string]any, log logr.Logger) {
	desc, ok := event["description"].(string)
	if !ok || desc == "" {
		return
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(desc), &parsed); err != nil {
		log.V(1).Info("description field is not JSON, leaving as-is")
		return
	}
	renameHardtokens(parsed)
	event["description"] = parsed
}

// renameHardtokens flattens the per-serial hardtoken keys into sequential
// hardtoken_N entries. The platform and serial number encoded in each key
// name move into the entry body where they can be filtered on.
func renameHardtokens(desc map[string]any) {
	tokens, ok := desc["hardtokens"].(map[string]any)
	if !ok || len(tokens) == 0 {
		return
	}

	keys := make([]string, 0, len(tokens))
	for key := range tokens {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	count := 1
	for _, key := range keys {
		parts := strings.Split(key, "-")
		if len(parts) != 3 {
			// Unexpected key shape, keep the original structure.
			return
		}
		entry := map[string]any{
			"platform":     parts[1],
			"serialnumber": parts[2],
		}
		if body, ok := tokens[key].(map[string]any); ok {
			for k, v := range body {
				entry[k] = v
			}
		}
		desc[fmt.Sprintf("hardtoken_%d", count)] = entry
		count++
	}
	delete(desc, "hardtokens")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
