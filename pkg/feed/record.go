package feed

import "time"

// Record is one raw event pulled from a vendor API or log file.
type Record struct {
	// Data is the vendor payload as delivered downstream.
	Data map[string]any

	// EventTime is when the event occurred according to the vendor.
	// The ingestion cycle advances the checkpoint from this value.
	EventTime time.Time

	// NaturalKey identifies the record for logging and debugging only.
	// Records are not deduplicated on it.
	NaturalKey string
}
