// Package stream drives a vendor resolver across a batch of BOM rows and
// emits an ordered event sequence to a bounded channel.
//
// The sequence is: exactly one ready event first, then per-row outcome
// events interleaved with one progress event after every terminal outcome,
// then exactly one complete event. Once ready has been emitted the stream
// always terminates with complete unless the context is cancelled; row
// failures become events, never a broken stream.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/bomcheck/internal/bom"
	"github.com/fabworks/bomcheck/internal/catalog"
)

// Event is one newline-delimited stream message.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Event type tags.
const (
	EventReady    = "ready"
	EventFound    = "found"
	EventNotFound = "not_found"
	EventError    = "error"
	EventProgress = "progress"
	EventComplete = "complete"
)

// Progress is the payload of progress events and the counter part of the
// complete payload.
type Progress struct {
	Total           int     `json:"total"`
	Processed       int     `json:"processed"`
	Found           int     `json:"found"`
	NotFound        int     `json:"not_found"`
	PercentComplete float64 `json:"percent_complete"`
}

// Complete is the payload of the final event.
type Complete struct {
	Progress
	PercentFound float64 `json:"percent_found"`
	Source       string  `json:"source"`
}

// errorPayload is the payload of per-candidate error events.
type errorPayload struct {
	MPN     string `json:"mpn"`
	Message string `json:"message"`
}

// Options tunes one stream run.
type Options struct {
	// Buffer is the event channel capacity. Zero or negative falls back
	// to an unbuffered channel.
	Buffer int

	// PaceDelay is an optional sleep after each emitted event.
	PaceDelay time.Duration
}

// Run resolves rows against the resolver in input order and returns the
// event channel. The channel is closed after the complete event or as soon
// as ctx is cancelled; a cancelled stream stops resolving promptly and does
// not leak the producer goroutine.
func Run(ctx context.Context, resolver catalog.Resolver, rows []bom.Row, opts Options) <-chan Event {
	buffer := opts.Buffer
	if buffer < 0 {
		buffer = 0
	}
	events := make(chan Event, buffer)

	go func() {
		defer close(events)

		id := uuid.NewString()
		log := slog.With("stream_id", id, "source", resolver.Source(), "total_rows", len(rows))
		log.Info("stream starting")
		start := time.Now()

		emit := func(ev Event) bool {
			select {
			case events <- ev:
			case <-ctx.Done():
				return false
			}
			if opts.PaceDelay > 0 {
				select {
				case <-time.After(opts.PaceDelay):
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		if !emit(Event{Event: EventReady, Data: struct{}{}}) {
			log.Info("stream cancelled before ready")
			return
		}

		total := len(rows)
		found, notFound := 0, 0

		for _, row := range rows {
			if ctx.Err() != nil {
				log.Info("stream cancelled", "processed", found+notFound)
				return
			}

			for _, out := range resolveRow(ctx, resolver, row) {
				var ok bool
				switch out.Kind {
				case catalog.OutcomeError:
					ok = emit(Event{Event: EventError, Data: errorPayload{
						MPN:     out.MPN,
						Message: out.Err.Error(),
					}})
				case catalog.OutcomeFound:
					found++
					ok = emit(Event{Event: EventFound, Data: out.Part}) &&
						emit(Event{Event: EventProgress, Data: progress(total, found, notFound)})
				case catalog.OutcomeNotFound:
					notFound++
					ok = emit(Event{Event: EventNotFound, Data: out.Part}) &&
						emit(Event{Event: EventProgress, Data: progress(total, found, notFound)})
				}
				if !ok {
					log.Info("stream cancelled", "processed", found+notFound)
					return
				}
			}
		}

		emit(Event{Event: EventComplete, Data: Complete{
			Progress:     progress(total, found, notFound),
			PercentFound: percent(found, total),
			Source:       resolver.Source(),
		}})
		log.Info("stream complete",
			"found", found, "not_found", notFound, "duration", time.Since(start))
	}()

	return events
}

// resolveRow calls the resolver and converts a panic into an error outcome
// plus a not_found terminal, so a misbehaving resolver costs one row, not
// the stream.
func resolveRow(ctx context.Context, resolver catalog.Resolver, row bom.Row) (outcomes []catalog.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("row resolution panicked", "source", resolver.Source(), "row_index", row.RowIndex, "panic", r)
			mpn := ""
			if len(row.MPNs) > 0 {
				mpn = row.MPNs[0]
			}
			outcomes = []catalog.Outcome{
				{Kind: catalog.OutcomeError, MPN: mpn, Err: fmt.Errorf("row resolution failed: %v", r)},
				{Kind: catalog.OutcomeNotFound, Part: failedRowPart(row, resolver.Source())},
			}
		}
	}()
	return resolver.Resolve(ctx, row)
}

func failedRowPart(row bom.Row, source string) *catalog.Part {
	mpn := "Unknown"
	if len(row.MPNs) > 0 {
		mpn = row.MPNs[0]
	}
	return &catalog.Part{
		MPN:          mpn,
		Manufacturer: row.Manufacturer,
		Description:  "Part not found",
		Status:       catalog.StatusNotFound,
		PriceBreaks:  []catalog.PriceBreak{},
		Source:       source,
	}
}

func progress(total, found, notFound int) Progress {
	processed := found + notFound
	return Progress{
		Total:           total,
		Processed:       processed,
		Found:           found,
		NotFound:        notFound,
		PercentComplete: percent(processed, total),
	}
}

// percent returns part/total as a percentage rounded to one decimal, or 0
// for an empty batch.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}
