// Package config loads the main logfeeder configuration, per-feeder
// configuration files, and the opaque credential files they point at.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"
)

// Main is the "logfeeder" section of the main configuration file.
type Main struct {
	// AWSConfigFilepath points at the AWS credential file used by the SQS
	// sink and the S3-event feeders.
	AWSConfigFilepath string `json:"aws_config_filepath"`

	// Domain is the account/domain name stamped into every record.
	Domain string `json:"domain"`

	// LastTimestampDir holds one checkpoint file per identity.
	LastTimestampDir string `json:"last_timestamp_dir"`

	// LocksDir holds one lock file per identity.
	LocksDir string `json:"locks_dir"`

	// PushgatewayURL, when set, is where run metrics are pushed at exit.
	PushgatewayURL string `json:"pushgateway_url"`
}

// Feeder is the per-feeder configuration file. Source- and sink-specific
// sections are opaque to the ingestion cycle; each variant reads its own.
type Feeder struct {
	APICredsFilepath string `json:"api_creds_filepath"`

	// Rate limiter settings; both zero means no limiting.
	RateLimiterNumCallsPerTimeunit   int `json:"rate_limiter_num_calls_per_timeunit"`
	RateLimiterNumSecondsPerTimeunit int `json:"rate_limiter_num_seconds_per_timeunit"`

	// Sinks names the sink variants to deliver to, in order.
	Sinks []string `json:"sinks"`

	// DefaultLookbackMinutes bounds the first run when no checkpoint
	// exists. Zero means the 10-minute default.
	DefaultLookbackMinutes int `json:"default_lookback_minutes"`

	// CloudWatch Logs feeder.
	Region          string `json:"region"`
	LogGroupName    string `json:"log_group_name"`
	LogStreamPrefix string `json:"log_stream_prefix"`

	// S3 event-notification feeders.
	S3EventNotificationsQueueName string `json:"s3_event_notifications_queue_name"`
	NumberMessages                int32  `json:"number_messages"`
	OwnerAccountID                string `json:"owner_account_id"`

	// Sink sections.
	Elasticsearch Elasticsearch `json:"elasticsearch"`
	PubSub        PubSub        `json:"pubsub"`
	EventHub      EventHub      `json:"eventhub"`

	// SubAPIs maps sub-API name to its enable_<name> switch. Empty when
	// the feeder has no sub-APIs.
	SubAPIs map[string]bool `json:"-"`
}

// Elasticsearch configures the search-index sink.
type Elasticsearch struct {
	Addresses []string `json:"addresses"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`

	// IndexLayout is a Go time layout evaluated against each record's
	// event time, e.g. "logfeeder-2006.01.02".
	IndexLayout string `json:"index_layout"`

	// ChunkSize is the number of documents per bulk request.
	ChunkSize int `json:"chunk_size"`
}

// PubSub configures the Google Pub/Sub queue sink.
type PubSub struct {
	ProjectID string `json:"project_id"`
	TopicID   string `json:"topic_id"`
}

// EventHub configures the Azure Event Hubs queue sink.
type EventHub struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// LoadMain reads the main configuration file. It returns the "logfeeder"
// section and a map of feeder name to that feeder's config file path (the
// original "<feeder>: {file: ...}" sections).
func LoadMain(path string) (*Main, map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var wrapper struct {
		Logfeeder Main `json:"logfeeder"`
	}
	if err := yaml.Unmarshal(raw, &wrapper); err != nil {
		return nil, nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var sections map[string]struct {
		File string `json:"file"`
	}
	if err := yaml.Unmarshal(raw, &sections); err != nil {
		return nil, nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	feeders := map[string]string{}
	for name, section := range sections {
		if name == "logfeeder" || section.File == "" {
			continue
		}
		feeders[name] = section.File
	}

	main := wrapper.Logfeeder
	if main.LastTimestampDir == "" {
		main.LastTimestampDir = "log_files"
	}
	if main.LocksDir == "" {
		main.LocksDir = "locks"
	}
	return &main, feeders, nil
}

// LoadFeeder reads one feeder configuration file, collecting the dynamic
// enable_<sub_api> switches into SubAPIs.
func LoadFeeder(path string) (*Feeder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feeder config %s: %w", path, err)
	}

	var feeder Feeder
	if err := yaml.Unmarshal(raw, &feeder); err != nil {
		return nil, fmt.Errorf("parsing feeder config %s: %w", path, err)
	}

	var keys map[string]any
	if err := yaml.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("parsing feeder config %s: %w", path, err)
	}
	for key, value := range keys {
		name, ok := strings.CutPrefix(key, "enable_")
		if !ok {
			continue
		}
		enabled, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("feeder config %s: %s must be a boolean", path, key)
		}
		if feeder.SubAPIs == nil {
			feeder.SubAPIs = map[string]bool{}
		}
		feeder.SubAPIs[name] = enabled
	}

	return &feeder, nil
}

// EnabledSubAPIs returns the enabled sub-API names, sorted. For feeders
// without sub-APIs it returns the feeder's own name, the convention that
// keeps checkpoint and lock naming uniform.
func (f *Feeder) EnabledSubAPIs(feederName string) []string {
	if len(f.SubAPIs) == 0 {
		return []string{feederName}
	}
	var enabled []string
	for name, on := range f.SubAPIs {
		if on {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(enabled)
	return enabled
}
