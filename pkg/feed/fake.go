package feed

import (
	"context"
	"sync"
	"time"
)

// FakeSource is a test double for Source. It serves pre-loaded record pages
// and records the resume timestamps it was called with.
type FakeSource struct {
	mu      sync.Mutex
	pages   [][]Record
	current int
	calls   []time.Time

	// FetchErr, when set, is returned once the pre-loaded pages run out
	// (or immediately if there are none).
	FetchErr error

	// Username, when non-empty, is reported via UsernameField.
	Username string
}

// NewFakeSource creates a FakeSource serving the given pages in order,
// followed by an empty page.
func NewFakeSource(pages ...[]Record) *FakeSource {
	return &FakeSource{pages: pages}
}

func (f *FakeSource) FetchSince(_ context.Context, since time.Time) ([]Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, since)
	if f.current >= len(f.pages) {
		if f.FetchErr != nil {
			return nil, false, f.FetchErr
		}
		return nil, false, nil
	}
	page := f.pages[f.current]
	f.current++
	return page, f.current < len(f.pages), nil
}

func (f *FakeSource) UsernameField() string { return f.Username }

// Calls returns the resume timestamps passed to FetchSince.
func (f *FakeSource) Calls() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

// FakeSink is a test double for Sink. It records delivered envelopes and can
// fail specific deliveries by ordinal.
type FakeSink struct {
	SinkName string

	// FailOn holds 1-based delivery ordinals that return an error.
	FailOn map[int]error

	mu        sync.Mutex
	delivered []Envelope
	attempts  int
	flushes   int
	closes    int
}

func (f *FakeSink) Name() string {
	if f.SinkName == "" {
		return "fake"
	}
	return f.SinkName
}

func (f *FakeSink) Deliver(_ context.Context, env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if err, ok := f.FailOn[f.attempts]; ok {
		return err
	}
	f.delivered = append(f.delivered, env)
	return nil
}

func (f *FakeSink) Flush(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *FakeSink) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// Delivered returns the envelopes accepted so far.
func (f *FakeSink) Delivered() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Envelope(nil), f.delivered...)
}

// Attempts returns the number of Deliver calls, including failed ones.
func (f *FakeSink) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// Flushes returns the number of Flush calls.
func (f *FakeSink) Flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

// Closes returns the number of Close calls.
func (f *FakeSink) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
