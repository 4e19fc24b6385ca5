package s3events

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

// umbrellaFields is the OpenDNS log management export column order.
var umbrellaFields = [...]string{
	"timestamp",
	"most_granular_identity",
	"identities",
	"internal_ip",
	"external_ip",
	"action",
	"query_type",
	"response_code",
	"domain",
	"categories",
}

// umbrellaTimeLayout is the timestamp column format; values are UTC.
const umbrellaTimeLayout = "2006-01-02 15:04:05"

// ExtractCloudTrail parses a CloudTrail log file: one JSON document holding
// a Records array of API events.
func ExtractCloudTrail(s3Path string, content []byte) ([]feed.Record, error) {
	var file struct {
		Records []map[string]any `json:"Records"`
	}
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parsing CloudTrail file %s: %w", s3Path, err)
	}

	records := make([]feed.Record, 0, len(file.Records))
	for _, event := range file.Records {
		raw, ok := event["eventTime"].(string)
		if !ok {
			return nil, fmt.Errorf("CloudTrail event in %s has no eventTime", s3Path)
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing eventTime %q in %s: %w", raw, s3Path, err)
		}

		rec := feed.Record{Data: event, EventTime: ts.UTC()}
		if id, ok := event["eventID"].(string); ok {
			rec.NaturalKey = id
		}
		records = append(records, rec)
	}
	return records, nil
}

// ExtractUmbrella parses an OpenDNS Umbrella CSV export. OpenDNS's own
// health-check lookups against debug.opendns.com are dropped (domains in the
// export carry a trailing dot).
func ExtractUmbrella(s3Path string, content []byte) ([]feed.Record, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = len(umbrellaFields)

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing Umbrella CSV %s: %w", s3Path, err)
	}

	records := make([]feed.Record, 0, len(rows))
	for _, row := range rows {
		data := make(map[string]any, len(umbrellaFields))
		for i, name := range umbrellaFields {
			data[name] = row[i]
		}
		if data["domain"] == "debug.opendns.com." {
			continue
		}

		raw := row[0]
		ts, err := time.ParseInLocation(umbrellaTimeLayout, raw, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp %q in %s: %w", raw, s3Path, err)
		}
		records = append(records, feed.Record{Data: data, EventTime: ts})
	}
	return records, nil
}
