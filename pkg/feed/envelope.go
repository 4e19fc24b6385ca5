package feed

import (
	"encoding/json"
	"strings"
	"time"
)

// Envelope is the processed form of a Record delivered to sinks. The vendor
// payload is nested under "<feeder>_data" and the feeder identity is stamped
// into top-level fields so downstream consumers can sort streams apart.
type Envelope struct {
	// EventTime mirrors the "event_time" field for sinks that need the
	// parsed value (index routing, fingerprinting).
	EventTime time.Time

	// Fields is the complete document to deliver.
	Fields map[string]any
}

// BuildEnvelope wraps a record for delivery. usernameField, when non-empty,
// is a dotted path into the vendor payload; the value it resolves to is
// hoisted into a top-level "org_username" field for user-centric dashboards.
func BuildEnvelope(id Identity, instance string, rec Record, usernameField string) Envelope {
	id = id.Normalized()
	fields := map[string]any{
		id.Feeder + "_data":  rec.Data,
		"event_time":         rec.EventTime.UTC().Format(time.RFC3339),
		"logfeeder_type":     id.Feeder,
		"logfeeder_subapi":   id.SubAPI,
		"logfeeder_account":  id.Account,
		"logfeeder_instance": instance,
	}
	if usernameField != "" {
		if v := lookupPath(rec.Data, usernameField); v != nil {
			fields["org_username"] = v
		}
	}
	return Envelope{EventTime: rec.EventTime, Fields: fields}
}

// JSON renders the envelope document.
func (e Envelope) JSON() ([]byte, error) {
	return json.Marshal(e.Fields)
}

// lookupPath walks a dotted key path through nested maps. When a path
// element lands on a list, the walk continues through its first element,
// matching how vendor payloads wrap single objects in arrays. Returns nil
// on any miss.
func lookupPath(data map[string]any, path string) any {
	var current any = data
	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			current = node[key]
		case []any:
			if len(node) == 0 {
				return nil
			}
			first, ok := node[0].(map[string]any)
			if !ok {
				return nil
			}
			current = first[key]
		default:
			return nil
		}
		if current == nil {
			return nil
		}
	}
	return current
}
