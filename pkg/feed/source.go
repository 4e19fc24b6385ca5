package feed

import (
	"context"
	"time"
)

// Source fetches raw records from one vendor API or log stream.
type Source interface {
	// FetchSince returns one bounded page of records that occurred at or
	// after the resume point. Within one call, records are ordered by
	// non-decreasing EventTime; the ingestion cycle relies on this to
	// advance the checkpoint incrementally.
	//
	// more reports whether the source expects further pages this run.
	// An empty page with more set keeps the run paging; an empty page
	// without it ends the run.
	FetchSince(ctx context.Context, since time.Time) (records []Record, more bool, err error)
}

// Acknowledger is an optional interface a Source can implement when its
// upstream holds fetched data until delivery is confirmed. The ingestion
// cycle acknowledges after a page's records are delivered and flushed, so a
// crash before that point re-delivers the page instead of losing it.
type Acknowledger interface {
	Acknowledge(ctx context.Context) error
}

// UsernameFielder is an optional interface a Source can implement to name
// the dotted path of the username inside its payloads. The cycle hoists the
// value into the envelope's "org_username" field.
type UsernameFielder interface {
	UsernameField() string
}
