package runtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/arvo-systems/agentloop/internal/eventbus"
	"github.com/arvo-systems/agentloop/internal/stream"
	"github.com/arvo-systems/agentloop/internal/tools"
	"github.com/arvo-systems/agentloop/pkg/models"
)

// pumpStream reads decoded frames off reader and posts them back to the
// loop's inbox, tagged with gen so the loop can ignore anything that
// arrives after the turn that started this stream was aborted. It owns
// cancel and calls it on every exit path so the provider's transport is
// always released.
func (r *Runtime) pumpStream(ctx context.Context, gen uint64, reader io.Reader, cancel func()) {
	defer r.bg.Done()
	defer cancel()

	decoder := stream.NewDecoder(reader, r.provider.ParseFrame)

	type frame struct {
		events []stream.Event
		ok     bool
	}
	frames := make(chan frame, 1)
	readNext := func() { events, ok := decoder.Next(); frames <- frame{events, ok} }
	go readNext()

	idle := time.NewTimer(r.opts.StreamIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case f := <-frames:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			if !f.ok {
				r.postBG(inboxMessage{kind: msgStreamEnded, generation: gen, err: errStreamClosedEarly})
				return
			}
			r.postBG(inboxMessage{kind: msgStreamEvents, generation: gen, events: f.events})
			if containsTerminal(f.events) {
				return
			}
			idle.Reset(r.opts.StreamIdleTimeout)
			go readNext()
		case <-idle.C:
			r.postBG(inboxMessage{kind: msgStreamEnded, generation: gen, err: errStreamIdle})
			return
		case <-ctx.Done():
			return
		case <-r.stopped:
			return
		}
	}
}

func containsTerminal(events []stream.Event) bool {
	for _, e := range events {
		if e.Kind == stream.KindResponseDone || e.Kind == stream.KindError {
			return true
		}
	}
	return false
}

// pumpTools dispatches one batch of tool calls through the ToolRunner and
// posts the ordered results back to the loop's inbox.
func (r *Runtime) pumpTools(ctx context.Context, gen uint64, calls []models.ToolCall) {
	defer r.bg.Done()

	dispatch := make([]tools.Call, len(calls))
	for i, c := range calls {
		dispatch[i] = tools.Call{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}

	toolCtx := tools.Context{
		SessionID: r.opts.SessionID,
		Emit: func(event string, data map[string]any) {
			text, _ := data["message"].(string)
			r.publish(eventbus.Kind(event), func(e *eventbus.Event) { e.Message = text })
		},
	}

	var spanMu sync.Mutex
	spanFinishers := make(map[string]func(error))

	onEvent := func(callID, toolName string, started bool, result *tools.Result) {
		if started {
			if r.tracer != nil {
				_, span := r.tracer.TraceToolExecution(ctx, toolName)
				spanMu.Lock()
				spanFinishers[callID] = func(err error) {
					if err != nil {
						r.tracer.RecordError(span, err)
					}
					span.End()
				}
				spanMu.Unlock()
			}
			r.publish(eventbus.KindToolStart, func(e *eventbus.Event) {
				e.ToolCallID = callID
				e.ToolName = toolName
			})
			return
		}
		status := "success"
		if result.Outcome.Kind == "error" {
			status = "error"
		}
		if result.TimedOut {
			status = "timeout"
		}
		if r.metrics != nil {
			r.metrics.RecordToolExecution(toolName, status, result.Elapsed.Seconds())
		}
		spanMu.Lock()
		finish := spanFinishers[callID]
		delete(spanFinishers, callID)
		spanMu.Unlock()
		if finish != nil {
			var toolErr error
			if status != "success" {
				toolErr = errors.New(result.Outcome.Text)
			}
			finish(toolErr)
		}
		r.publish(eventbus.KindToolEnd, func(e *eventbus.Event) {
			e.ToolCallID = callID
			e.ToolName = toolName
			if status != "success" {
				e.ToolError = result.Outcome.Text
			}
		})
	}

	results := r.toolRun.RunAll(ctx, dispatch, toolCtx, onEvent)
	r.postBG(inboxMessage{kind: msgToolBatchDone, generation: gen, toolResults: results, toolCalls: calls})
}

func (r *Runtime) postBG(msg inboxMessage) {
	select {
	case r.inbox <- msg:
	case <-r.stopped:
	}
}
