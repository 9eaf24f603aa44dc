// Package relay translates the upstream model's chunk stream into the
// line-delimited SSE event stream clients consume, folding a running
// aggregate along the way.
package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"commodityd/internal/gemini"
)

// Event types. Every downstream frame is one of these.
const (
	EventText   = "text"
	EventCode   = "code"
	EventResult = "result"
	EventDone   = "done"
	EventError  = "error"
)

// Event is the envelope serialized into each SSE frame, one complete JSON
// document per frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// CodeResult is one sandbox execution outcome.
type CodeResult struct {
	Output  string `json:"output"`
	Outcome string `json:"outcome"`
}

// Aggregate accumulates everything seen in one relay run. It is owned by a
// single in-flight request and discarded when the request ends.
type Aggregate struct {
	Text        string       `json:"text"`
	CodeBlocks  []string     `json:"code_blocks"`
	CodeResults []CodeResult `json:"code_results"`
}

// NewAggregate returns an empty aggregate. Slices start non-nil so the done
// event serializes them as [] rather than null.
func NewAggregate() *Aggregate {
	return &Aggregate{
		CodeBlocks:  []string{},
		CodeResults: []CodeResult{},
	}
}

// apply folds one part into the aggregate and returns the events to emit
// for it. A part may carry several payload kinds at once; emissions follow
// the fixed order text, code, result.
func (a *Aggregate) apply(part gemini.Part) []Event {
	var events []Event

	if part.Text != "" {
		a.Text += part.Text
		// The event carries the incremental fragment, not the cumulative text.
		events = append(events, Event{Type: EventText, Data: part.Text})
	}

	if part.ExecutableCode != nil {
		code := part.ExecutableCode.Code
		a.CodeBlocks = append(a.CodeBlocks, code)
		events = append(events, Event{Type: EventCode, Data: code})
	}

	if part.CodeExecutionResult != nil {
		result := CodeResult{
			Output:  part.CodeExecutionResult.Output,
			Outcome: part.CodeExecutionResult.Outcome,
		}
		a.CodeResults = append(a.CodeResults, result)
		events = append(events, Event{Type: EventResult, Data: result})
	}

	return events
}

// Relay streams one upstream response to one downstream writer. Single-use:
// a second pass needs a fresh upstream call and a fresh Relay.
type Relay struct {
	logger      *zap.Logger
	idleTimeout time.Duration
}

// New creates a relay. idleTimeout bounds the gap between upstream chunks;
// a stalled upstream aborts the request with an error event instead of
// hanging it forever.
func New(logger *zap.Logger, idleTimeout time.Duration) *Relay {
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Minute
	}
	return &Relay{logger: logger, idleTimeout: idleTimeout}
}

// Run consumes the chunk stream and writes one SSE frame per event to w,
// flushing after each. On clean stream end it emits exactly one done event
// carrying the aggregate; on upstream failure exactly one error event and
// never done. The returned aggregate reflects everything forwarded.
func (r *Relay) Run(ctx context.Context, w io.Writer, chunks <-chan gemini.GenerateChunk, errs <-chan error) (*Aggregate, error) {
	agg := NewAggregate()

	idle := time.NewTimer(r.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// Stream ended. An error buffered before close takes
				// precedence over the done event.
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						r.emitError(w, err)
						return agg, err
					}
				default:
				}
				if err := r.emit(w, Event{Type: EventDone, Data: agg}); err != nil {
					return agg, err
				}
				return agg, nil
			}

			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(r.idleTimeout)

			// A chunk with no candidate, content, or parts is an empty
			// tick, not an error.
			for _, part := range chunk.Parts() {
				for _, ev := range agg.apply(part) {
					if err := r.emit(w, ev); err != nil {
						return agg, err
					}
				}
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				r.emitError(w, err)
				return agg, err
			}

		case <-idle.C:
			err := fmt.Errorf("upstream stream idle for %s", r.idleTimeout)
			r.emitError(w, err)
			return agg, err

		case <-ctx.Done():
			// Client went away; nothing left to write to.
			r.logger.Debug("relay cancelled", zap.Error(ctx.Err()))
			return agg, ctx.Err()
		}
	}
}

// emit writes one event as a single data: frame and flushes.
func (r *Relay) emit(w io.Writer, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// emitError sends the terminal error event. A failure to write it is logged
// and swallowed: the request is already over.
func (r *Relay) emitError(w io.Writer, cause error) {
	r.logger.Warn("relay terminating with error", zap.Error(cause))
	if err := r.emit(w, Event{Type: EventError, Data: cause.Error()}); err != nil {
		r.logger.Warn("failed to write error event", zap.Error(err))
	}
}
