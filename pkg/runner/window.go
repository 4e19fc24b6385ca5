package runner

import (
	"fmt"
	"time"
)

// WindowOptions are the raw command-line time-range flags.
type WindowOptions struct {
	// StartTime and EndTime are absolute RFC 3339 timestamps.
	StartTime string
	EndTime   string

	// RelativeStartMin and RelativeEndMin are offsets in minutes before
	// the current time. Mutually exclusive with their absolute twins.
	RelativeStartMin int
	RelativeEndMin   int
}

// Window is the resolved query time range. A zero Start means "resume from
// the checkpoint"; a zero End means "up to now".
type Window struct {
	Start time.Time
	End   time.Time
}

// Resolve turns the flags into a Window. Absolute and relative forms of the
// same bound cannot be combined.
func (o WindowOptions) Resolve(now time.Time) (Window, error) {
	var w Window

	switch {
	case o.StartTime != "" && o.RelativeStartMin != 0:
		return w, fmt.Errorf("both start-time and relative-start are set; use one or neither")
	case o.StartTime != "":
		t, err := time.Parse(time.RFC3339, o.StartTime)
		if err != nil {
			return w, fmt.Errorf("parsing start-time: %w", err)
		}
		w.Start = t
	case o.RelativeStartMin != 0:
		w.Start = now.Add(-time.Duration(o.RelativeStartMin) * time.Minute)
	}

	switch {
	case o.EndTime != "" && o.RelativeEndMin != 0:
		return w, fmt.Errorf("both end-time and relative-end are set; use one or neither")
	case o.EndTime != "":
		t, err := time.Parse(time.RFC3339, o.EndTime)
		if err != nil {
			return w, fmt.Errorf("parsing end-time: %w", err)
		}
		w.End = t
	case o.RelativeEndMin != 0:
		w.End = now.Add(-time.Duration(o.RelativeEndMin) * time.Minute)
	}

	return w, nil
}
