// Package runner drives one ingestion cycle: acquire the run lock, load the
// checkpoint, fetch records page by page under the rate limit, deliver each
// record to every configured sink, and advance the checkpoint after every
// batch so a crash mid-run re-delivers at most one batch.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"

	"github.com/felixnotka/logfeeder/pkg/checkpoint"
	"github.com/felixnotka/logfeeder/pkg/feed"
	"github.com/felixnotka/logfeeder/pkg/metrics"
	"github.com/felixnotka/logfeeder/pkg/ratelimit"
	"github.com/felixnotka/logfeeder/pkg/runlock"
)

// defaultLookback bounds the first run of an identity that has no
// checkpoint yet.
const defaultLookback = 10 * time.Minute

// Cycle is one run of one feeder identity. Cycles are strictly sequential:
// fetch, rate-limit wait, and delivery never overlap within a run, and the
// run lock keeps two runs of the same identity from overlapping each other.
type Cycle struct {
	Identity feed.Identity

	// Instance is the operator-chosen instance name, stamped into every
	// envelope and used only for labeling.
	Instance string

	Source feed.Source
	Sinks  []feed.Sink

	Checkpoints *checkpoint.Store
	Locks       *runlock.Store
	Limiter     *ratelimit.Limiter

	// Window constrains the query time range. Zero bounds fall back to
	// the checkpoint and the current time.
	Window Window

	// Lookback replaces the checkpoint when none exists. Zero means the
	// 10-minute default.
	Lookback time.Duration

	// Stateless skips the run lock and all checkpoint reads and writes.
	Stateless bool

	// NoOutput bypasses the sinks and writes envelopes to Out instead.
	NoOutput bool
	Out      io.Writer

	Log logr.Logger

	// now is a test seam.
	now func() time.Time
}

// Run executes the cycle to completion and reports its single outcome. The
// returned error carries detail for Fatal outcomes; Busy, PartialFailure and
// Success return a nil error.
func (c *Cycle) Run(ctx context.Context) (Outcome, error) {
	id := c.Identity.Normalized()
	log := c.Log.WithValues("feeder", id.Feeder, "subApi", id.SubAPI, "account", id.Account)
	started := c.clock()
	defer func() {
		metrics.RunDurationSeconds.WithLabelValues(id.Feeder, id.SubAPI).
			Observe(c.clock().Sub(started).Seconds())
	}()

	log.Info("feeder starting", "instance", c.Instance, "stateless", c.Stateless)

	defer func() {
		for _, snk := range c.Sinks {
			closer, ok := snk.(feed.Closer)
			if !ok {
				continue
			}
			if cerr := closer.Close(ctx); cerr != nil {
				log.Error(cerr, "failed to close sink", "sink", snk.Name())
			}
		}
	}()

	if !c.Stateless {
		handle, err := c.Locks.Acquire(id)
		if errors.Is(err, runlock.ErrBusy) {
			log.Info("another run is in progress, exiting")
			return Busy, nil
		}
		if err != nil {
			return Fatal, fmt.Errorf("acquiring run lock: %w", err)
		}
		defer func() {
			if rerr := c.Locks.Release(handle); rerr != nil {
				log.Error(rerr, "failed to release run lock")
			}
		}()
	}

	window, err := c.resolveWindow(id)
	if err != nil {
		return Fatal, err
	}
	log.V(1).Info("resolved time range", "start", window.Start, "end", window.End)

	outcome, err := c.ingest(ctx, id, window, log)
	log.Info("run complete", "outcome", outcome.String())
	return outcome, err
}

// resolveWindow fills the zero bounds of the configured window: the start
// comes from the checkpoint (or the lookback when none exists) and the end
// defaults to now. A relative end that lands before the start pulls the
// start back to one lookback before the end.
func (c *Cycle) resolveWindow(id feed.Identity) (Window, error) {
	window := c.Window
	now := c.clock()

	if window.Start.IsZero() && !c.Stateless {
		ts, ok, err := c.Checkpoints.Load(id)
		if err != nil {
			return window, fmt.Errorf("loading checkpoint: %w", err)
		}
		if ok {
			window.Start = ts
		}
	}

	lookback := c.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}
	if window.Start.IsZero() {
		window.Start = now.Add(-lookback)
	}
	if window.End.IsZero() {
		window.End = now
	}
	if window.End.Before(window.Start) {
		window.Start = window.End.Add(-lookback)
	}
	return window, nil
}

func (c *Cycle) ingest(ctx context.Context, id feed.Identity, window Window, log logr.Logger) (Outcome, error) {
	usernameField := ""
	if uf, ok := c.Source.(feed.UsernameFielder); ok {
		usernameField = uf.UsernameField()
	}
	acker, _ := c.Source.(feed.Acknowledger)

	resume := window.Start
	latest := time.Time{}
	outcome := Success
	totalRecords := 0

	for {
		if err := c.Limiter.Acquire(ctx); err != nil {
			return Fatal, fmt.Errorf("waiting for rate limiter: %w", err)
		}

		records, more, err := c.Source.FetchSince(ctx, resume)
		if err != nil {
			metrics.FetchErrorsTotal.WithLabelValues(id.Feeder, id.SubAPI).Inc()
			return Fatal, fmt.Errorf("fetching records since %s: %w", resume.Format(time.RFC3339), err)
		}
		if len(records) == 0 {
			if more {
				// Empty page mid-walk (the source filtered
				// everything out); keep paging.
				continue
			}
			log.V(1).Info("no records returned")
			break
		}

		// Drop records past the window end. Records arrive in
		// non-decreasing order, so the first one past the end bound
		// also ends the run.
		pastEnd := false
		kept := records
		for i, rec := range records {
			if rec.EventTime.After(window.End) {
				kept = records[:i]
				pastEnd = true
				break
			}
		}

		failures := c.deliverBatch(ctx, id, kept, usernameField, log)
		if failures > 0 {
			outcome = PartialFailure
		}

		totalRecords += len(kept)
		metrics.RecordsFetchedTotal.WithLabelValues(id.Feeder, id.SubAPI).Add(float64(len(kept)))
		log.Info("records fetched", "count", len(kept), "failures", failures)

		// Advance the checkpoint after every batch, not only at run
		// end, so a crash mid-run re-delivers at most one batch. A
		// record-level sink failure does not hold the checkpoint back:
		// forward progress wins over re-delivery.
		for _, rec := range kept {
			if rec.EventTime.After(latest) {
				latest = rec.EventTime
			}
		}
		if !latest.IsZero() {
			resume = latest
			if !c.Stateless {
				if err := c.Checkpoints.Save(id, latest); err != nil {
					return Fatal, fmt.Errorf("saving checkpoint: %w", err)
				}
				metrics.CheckpointTimestampSeconds.WithLabelValues(id.Feeder, id.SubAPI).
					Set(float64(latest.Unix()))
			}
		}

		// Confirm the batch only after delivery and flush. A truncated
		// batch is not confirmed: its dropped records must come back on
		// the next run. A failed confirmation just means re-delivery.
		if acker != nil && !pastEnd {
			if err := acker.Acknowledge(ctx); err != nil {
				log.Error(err, "failed to acknowledge processed batch")
			}
		}

		if pastEnd || !more {
			break
		}
	}

	log.Info("records processed", "count", totalRecords, "latestEventTime", latest)
	return outcome, nil
}

// deliverBatch sends every record to every sink, then flushes buffering
// sinks. Failure of one sink never blocks delivery to the others, and a
// failed record never halts the batch.
func (c *Cycle) deliverBatch(ctx context.Context, id feed.Identity, records []feed.Record, usernameField string, log logr.Logger) int {
	failures := 0
	for _, rec := range records {
		env := feed.BuildEnvelope(id, c.Instance, rec, usernameField)

		if c.NoOutput {
			if doc, err := env.JSON(); err == nil {
				fmt.Fprintf(c.Out, "%s\n", doc)
			}
			continue
		}

		for _, snk := range c.Sinks {
			if err := snk.Deliver(ctx, env); err != nil {
				failures++
				metrics.DeliveryFailuresTotal.WithLabelValues(snk.Name()).Inc()
				log.Error(err, "record delivery failed",
					"sink", snk.Name(), "naturalKey", rec.NaturalKey,
					"eventTime", rec.EventTime)
				continue
			}
			metrics.RecordsDeliveredTotal.WithLabelValues(snk.Name()).Inc()
		}
	}

	if !c.NoOutput {
		for _, snk := range c.Sinks {
			flusher, ok := snk.(feed.Flusher)
			if !ok {
				continue
			}
			if err := flusher.Flush(ctx); err != nil {
				failures++
				metrics.DeliveryFailuresTotal.WithLabelValues(snk.Name()).Inc()
				log.Error(err, "sink flush failed", "sink", snk.Name())
			}
		}
	}
	return failures
}

func (c *Cycle) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}
