package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arvo-systems/agentloop/internal/eventbus"
	"github.com/arvo-systems/agentloop/internal/observability"
	"github.com/arvo-systems/agentloop/internal/retrypolicy"
	"github.com/arvo-systems/agentloop/internal/store"
	"github.com/arvo-systems/agentloop/internal/stream"
	"github.com/arvo-systems/agentloop/pkg/models"
	"github.com/google/uuid"
)

// run is the loop goroutine: the only place that ever touches state. Every
// other method on Runtime communicates with it by posting to inbox.
func (r *Runtime) run(state *runtimeState) {
	r.seedToolGuard(state)
	for {
		select {
		case msg := <-r.inbox:
			r.dispatch(state, msg)
		case <-r.stopped:
			if state.streamCancel != nil {
				state.streamCancel()
			}
			if state.toolCancel != nil {
				state.toolCancel()
			}
			if state.retryTimer != nil {
				state.retryTimer.Stop()
			}
			return
		}
	}
}

func (r *Runtime) dispatch(state *runtimeState, msg inboxMessage) {
	switch msg.kind {
	case msgPrompt:
		r.handlePrompt(state, msg)
	case msgAbort:
		r.handleAbort(state, msg)
	case msgGetState:
		msg.replyOK(state.fsm)
	case msgSetModel:
		state.model = msg.model
		msg.replyOK(PromptResult{})
	case msgSetProvider:
		if state.fsm != StateIdle {
			msg.replyOK(true)
			return
		}
		state.provider = msg.provider
		msg.replyOK(false)
	case msgSyncMessages:
		if state.fsm != StateIdle {
			msg.replyOK(true)
			return
		}
		if err := r.store.ReplaceAll(context.Background(), state.sessionID, msg.messages); err != nil {
			msg.replyOK(err)
			return
		}
		msg.replyOK(false)
	case msgConfigure:
		state.enabledTools = append([]string(nil), msg.enabledTools...)
		msg.replyOK(PromptResult{})
	case msgStreamEvents:
		if msg.generation != state.generation {
			return
		}
		r.handleStreamEvents(state, msg.events)
	case msgStreamEnded:
		if msg.generation != state.generation {
			return
		}
		r.handleStreamEnded(state, msg.err)
	case msgToolBatchDone:
		if msg.generation != state.generation {
			return
		}
		r.handleToolBatchDone(state, msg)
	case msgRetryFire:
		if msg.generation != state.generation {
			return
		}
		r.runTurn(state)
	case msgCompactionDone:
		if msg.generation != state.generation {
			return
		}
		r.handleCompactionDone(state, msg)
	}
}

func (r *Runtime) setFSMState(state *runtimeState, next FSMState) {
	if state.fsm == next {
		return
	}
	if r.metrics != nil {
		r.metrics.SetFSMState(string(state.fsm), -1)
		r.metrics.SetFSMState(string(next), 1)
	}
	state.fsm = next
}

// handlePrompt implements the Runtime API's prompt intake: start a turn
// immediately from idle, otherwise queue behind the turn in flight.
func (r *Runtime) handlePrompt(state *runtimeState, msg inboxMessage) {
	if state.fsm != StateIdle {
		state.pendingPrompts = append(state.pendingPrompts, msg.text)
		msg.replyOK(PromptResult{Queued: true})
		return
	}

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: state.sessionID,
		Role:      models.RoleUser,
		Content:   msg.text,
		CreatedAt: time.Now(),
	}
	if err := r.store.Append(context.Background(), state.sessionID, userMsg); err != nil {
		msg.replyOK(err)
		return
	}
	msg.replyOK(PromptResult{Queued: false})
	r.publish(eventbus.KindAgentStart, nil)
	r.runTurn(state)
}

// handleAbort cancels whatever is in flight and returns to idle. It is
// idempotent: aborting an already-idle runtime is a no-op reply.
func (r *Runtime) handleAbort(state *runtimeState, msg inboxMessage) {
	if state.fsm == StateIdle {
		msg.replyOK(nil)
		return
	}
	state.generation++
	if state.streamCancel != nil {
		state.streamCancel()
		state.streamCancel = nil
	}
	if state.toolCancel != nil {
		state.toolCancel()
		state.toolCancel = nil
	}
	if state.retryTimer != nil {
		state.retryTimer.Stop()
		state.retryTimer = nil
	}
	state.turn = nil
	state.toolsActive = false
	state.retryAttempt = 0

	r.publish(eventbus.KindAgentAbort, nil)
	r.setFSMState(state, StateIdle)
	msg.replyOK(nil)
	r.drainPendingPrompt(state)
}

// runTurn is the entry action for a turn: check whether the context needs
// compacting before spending a round trip on it, then open the stream.
func (r *Runtime) runTurn(state *runtimeState) {
	history, err := r.store.Messages(context.Background(), state.sessionID)
	if err != nil {
		r.failFatal(state, fmt.Errorf("runtime: load history: %w", err))
		return
	}
	if r.usage.NeedsCompaction(history) {
		r.startCompaction(state, history, "threshold")
		return
	}
	r.openStream(state, history)
}

func (r *Runtime) openStream(state *runtimeState, history []*models.Message) {
	state.turn = newCurrentTurn(state.retryAttempt + 1)
	r.setFSMState(state, StateRunning)

	req := Request{
		SessionID: state.sessionID,
		Provider:  state.provider,
		Model:     state.model,
		System:    r.opts.System,
		Messages:  history,
		Tools:     toolSpecsFor(r.registry, state.enabledTools),
		MaxTokens: r.opts.MaxTokens,
	}

	ctx := observability.AddSessionID(context.Background(), state.sessionID)
	if r.tracer != nil {
		ctx, _ = r.tracer.TraceTurn(ctx, state.sessionID, state.retryAttempt+1)
		ctx, _ = r.tracer.TraceLLMRequest(ctx, state.provider, state.model)
	}
	if r.logger != nil {
		r.logger.Info(ctx, "opening provider stream", "provider", state.provider, "model", state.model, "attempt", state.retryAttempt+1)
	}

	ctx, cancel := context.WithCancel(ctx)
	state.streamCancel = cancel
	gen := state.generation

	start := time.Now()
	r.publish(eventbus.KindRequestStart, nil)
	reader, err := r.provider.StartStream(ctx, req)
	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordLLMRequest(state.provider, state.model, status, time.Since(start).Seconds())
	}
	if err != nil {
		cancel()
		state.streamCancel = nil
		if r.logger != nil {
			r.logger.Error(ctx, "provider stream failed to start", "error", err)
		}
		r.handleTurnError(state, err)
		return
	}

	r.setFSMState(state, StateStreaming)
	r.publish(eventbus.KindMessageStart, nil)
	r.bg.Add(1)
	go r.pumpStream(ctx, gen, reader, cancel)
}

// handleStreamEvents applies one decoded batch to the in-flight turn and
// re-broadcasts each event on the bus.
func (r *Runtime) handleStreamEvents(state *runtimeState, events []stream.Event) {
	if state.turn == nil {
		return
	}
	for _, e := range events {
		switch e.Kind {
		case stream.KindTextDelta:
			state.turn.assistantAccum.WriteString(e.Text)
			r.publish(eventbus.KindMessageDelta, func(evt *eventbus.Event) { evt.Text = e.Text })
		case stream.KindThinkingDelta:
			if !state.turn.thinkingStarted {
				state.turn.thinkingStarted = true
				r.publish(eventbus.KindThinkingStart, nil)
			}
			r.publish(eventbus.KindThinkingDelta, func(evt *eventbus.Event) { evt.Text = e.Text })
		case stream.KindToolCallDelta:
			state.turn.mergeToolCallDelta(e.ToolCall)
		case stream.KindToolCallDone:
			// fragments already merged incrementally; nothing further to do
		case stream.KindUsage:
			state.turn.usageAccum = e.Usage
			r.publish(eventbus.KindUsageUpdate, func(evt *eventbus.Event) {
				evt.InputTokens = e.Usage.InputTokens
				evt.OutputTokens = e.Usage.OutputTokens
			})
		case stream.KindResponseDone:
			r.finalizeTurn(state)
			return
		case stream.KindError:
			r.handleTurnError(state, e.Err)
			return
		}
	}
}

// handleStreamEnded handles the pump exiting without a response_done event:
// an idle timeout or a closed connection. Both are treated as turn errors
// subject to the normal retry/compaction/fatal classification.
func (r *Runtime) handleStreamEnded(state *runtimeState, err error) {
	if state.turn == nil {
		return
	}
	r.handleTurnError(state, err)
}

// seedToolGuard walks the session's stored history once, before the loop
// processes anything, so finalizeTurn's guard reflects calls left dangling
// by a prior process (crash, restart) rather than starting as if the store
// were empty.
func (r *Runtime) seedToolGuard(state *runtimeState) {
	history, err := r.store.Messages(context.Background(), state.sessionID)
	if err != nil {
		return
	}
	for _, msg := range history {
		if msg == nil {
			continue
		}
		if msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0 {
			state.toolGuard.Track(msg)
		}
		if msg.Role == models.RoleToolResult {
			state.toolGuard.Resolve(msg.ToolCallID)
		}
	}
}

// finalizeTurn persists the completed assistant message and moves to tool
// dispatch or back to idle. The repair pass runs on the history that
// precedes this turn's message: running it after appending would mistake
// this turn's own not-yet-executed tool_calls for a dangling prior turn. It
// only runs when toolGuard reports a call still pending from an earlier
// turn; the common case resolves everything before the next turn starts,
// so most finalizations skip the rescan entirely.
func (r *Runtime) finalizeTurn(state *runtimeState) {
	turn := state.turn
	state.streamCancel = nil

	ctx := context.Background()
	if state.toolGuard.HasPending() {
		if r.logger != nil {
			r.logger.Warn(observability.AddSessionID(ctx, state.sessionID), "tool calls left unresolved by a prior turn, running repair pass", "pending_call_ids", state.toolGuard.PendingIDs())
		}
		history, err := r.store.Messages(ctx, state.sessionID)
		if err != nil {
			r.failFatal(state, fmt.Errorf("runtime: load history: %w", err))
			return
		}
		report := store.RepairToolCallPairing(history)
		for _, added := range report.Added {
			if err := r.store.Append(ctx, state.sessionID, added); err != nil {
				r.failFatal(state, fmt.Errorf("runtime: persist repair: %w", err))
				return
			}
			state.toolGuard.Resolve(added.ToolCallID)
		}
	}

	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: state.sessionID,
		Role:      models.RoleAssistant,
		Content:   turn.assistantAccum.String(),
		ToolCalls: turn.finalToolCalls(),
		CreatedAt: time.Now(),
	}
	if err := r.store.Append(ctx, state.sessionID, assistantMsg); err != nil {
		r.failFatal(state, fmt.Errorf("runtime: persist assistant message: %w", err))
		return
	}
	if r.metrics != nil {
		r.metrics.RecordContextWindow(state.provider, state.model, turn.usageAccum.InputTokens+turn.usageAccum.OutputTokens)
	}
	r.publish(eventbus.KindMessageEnd, func(evt *eventbus.Event) { evt.Text = assistantMsg.Content })

	state.turn = nil
	state.retryAttempt = 0

	if len(assistantMsg.ToolCalls) == 0 {
		r.publish(eventbus.KindAgentEnd, nil)
		r.enterIdleOrNextTurn(state)
		return
	}
	state.toolGuard.Track(assistantMsg)
	r.startToolBatch(state, assistantMsg.ToolCalls)
}

func (r *Runtime) startToolBatch(state *runtimeState, calls []models.ToolCall) {
	r.setFSMState(state, StateExecutingTools)
	state.toolsActive = true
	ctx, cancel := context.WithCancel(context.Background())
	state.toolCancel = cancel
	gen := state.generation
	r.bg.Add(1)
	go r.pumpTools(ctx, gen, calls)
}

// handleToolBatchDone appends tool results in call order, then opens the
// next turn so the provider sees the outcomes.
func (r *Runtime) handleToolBatchDone(state *runtimeState, msg inboxMessage) {
	state.toolsActive = false
	state.toolCancel = nil
	ctx := context.Background()

	for _, res := range msg.toolResults {
		resultMsg := &models.Message{
			ID:         uuid.NewString(),
			SessionID:  state.sessionID,
			Role:       models.RoleToolResult,
			ToolCallID: res.CallID,
			ToolResult: &models.ToolResult{
				CallID:  res.CallID,
				Outcome: toModelOutcome(res.Outcome.Kind),
				Text:    res.Outcome.Text,
				Effect:  res.Outcome.Effect,
				Elapsed: res.Elapsed,
			},
			CreatedAt: time.Now(),
		}
		if err := r.store.Append(ctx, state.sessionID, resultMsg); err != nil {
			r.failFatal(state, fmt.Errorf("runtime: persist tool result: %w", err))
			return
		}
		state.toolGuard.Resolve(res.CallID)
	}
	r.runTurn(state)
}

func toModelOutcome(kind string) models.ToolOutcome {
	switch kind {
	case "error":
		return models.ToolOutcomeError
	case "effect":
		return models.ToolOutcomeEffect
	default:
		return models.ToolOutcomeOK
	}
}

// handleTurnError classifies an in-flight error and routes it to retry,
// compaction, or a fatal end. ParseError is special-cased ahead of the
// general classifier: a malformed frame gets exactly one immediate retry of
// the whole turn, independent of the transient-error attempt budget.
func (r *Runtime) handleTurnError(state *runtimeState, err error) {
	state.streamCancel = nil
	var parseErr *stream.ParseError
	if errors.As(err, &parseErr) {
		r.retryParseError(state, err)
		return
	}

	class := retrypolicy.Classify(err)
	if r.metrics != nil {
		status := "fatal"
		if class == retrypolicy.ClassTransient || class == retrypolicy.ClassOverflow {
			status = "retry"
		}
		r.metrics.RecordError("runtime", status)
	}

	switch class {
	case retrypolicy.ClassOverflow:
		if !r.retry.ShouldRetry(class, state.retryAttempt+1) {
			r.failFatal(state, err)
			return
		}
		state.turn = nil
		history, loadErr := r.store.Messages(context.Background(), state.sessionID)
		if loadErr != nil {
			r.failFatal(state, fmt.Errorf("runtime: load history: %w", loadErr))
			return
		}
		r.startCompaction(state, history, "overflow")
	case retrypolicy.ClassTransient:
		state.retryAttempt++
		if !r.retry.ShouldRetry(class, state.retryAttempt) {
			r.failFatal(state, err)
			return
		}
		state.turn = nil
		r.scheduleRetry(state)
	default:
		r.failFatal(state, err)
	}
}

// retryParseError gives a malformed frame exactly one retry of the whole
// turn without touching the general retry-attempt budget.
func (r *Runtime) retryParseError(state *runtimeState, err error) {
	if r.metrics != nil {
		r.metrics.RecordRetryAttempt("parse_error", "retry")
	}
	if state.retryAttempt > 0 {
		// already retried a malformed frame once this turn; treat as fatal
		r.failFatal(state, err)
		return
	}
	state.turn = nil
	state.retryAttempt = 1
	r.scheduleRetry(state)
}

func (r *Runtime) scheduleRetry(state *runtimeState) {
	delay := r.retry.ComputeDelay(state.retryAttempt)
	gen := state.generation
	state.retryTimer = time.AfterFunc(delay, func() {
		r.postBG(inboxMessage{kind: msgRetryFire, generation: gen})
	})
	r.publish(eventbus.KindError, func(evt *eventbus.Event) { evt.Retry = true })
}

func (r *Runtime) startCompaction(state *runtimeState, history []*models.Message, trigger string) {
	aggressive := trigger == "overflow" && r.usage.NeedsAggressiveCompaction(history)
	window := r.compact.SelectWindow(history)
	if aggressive {
		window = r.compact.SelectAggressiveWindow(history)
	}
	if window.End <= window.Start {
		if trigger == "overflow" {
			// The provider already rejected this exact history for being too
			// large; re-opening the stream unchanged would just repeat the
			// rejection forever. Nothing left to collapse means the session
			// cannot fit regardless of compaction.
			r.failFatal(state, fmt.Errorf("runtime: turn exceeds provider context window and history has no room left to compact"))
			return
		}
		r.openStream(state, history)
		return
	}
	gen := state.generation
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		summary, err := r.compact.Compact(context.Background(), state.sessionID, history, window)
		r.postBG(inboxMessage{
			kind:        msgCompactionDone,
			generation:  gen,
			summary:     summary,
			windowStart: window.Start,
			windowEnd:   window.End,
			err:         err,
			trigger:     trigger,
		})
	}()
}

func (r *Runtime) handleCompactionDone(state *runtimeState, msg inboxMessage) {
	if msg.err != nil {
		r.failFatal(state, fmt.Errorf("runtime: compaction: %w", msg.err))
		return
	}
	ctx := context.Background()
	if err := r.store.Replace(ctx, state.sessionID, msg.windowStart, msg.windowEnd, msg.summary); err != nil {
		r.failFatal(state, fmt.Errorf("runtime: apply compaction: %w", err))
		return
	}
	if r.metrics != nil {
		r.metrics.RecordCompactionRun(msg.trigger)
	}
	r.runTurn(state)
}

// failFatal ends the turn in error, discards its partial state, and
// returns to idle without dropping queued prompts: a fatal error on one
// turn should not silently lose what the caller already queued.
func (r *Runtime) failFatal(state *runtimeState, err error) {
	state.generation++
	state.turn = nil
	state.retryAttempt = 0
	if state.retryTimer != nil {
		state.retryTimer.Stop()
		state.retryTimer = nil
	}
	if r.metrics != nil {
		r.metrics.RecordError("runtime", "fatal")
	}
	r.publish(eventbus.KindError, func(evt *eventbus.Event) { evt.Text = err.Error() })
	r.setFSMState(state, StateIdle)
	r.drainPendingPrompt(state)
}

// enterIdleOrNextTurn returns to idle, immediately starting the next turn
// if a prompt was queued while this one was in flight.
func (r *Runtime) enterIdleOrNextTurn(state *runtimeState) {
	r.setFSMState(state, StateIdle)
	r.drainPendingPrompt(state)
}

// drainPendingPrompt starts the next queued turn, if any, one prompt at a
// time. The prompt's text is only turned into a persisted user Message now,
// at hand-off to idle — never at queue time — so a prompt submitted while
// executing_tools can never land between an assistant's tool_calls and
// their tool_results.
func (r *Runtime) drainPendingPrompt(state *runtimeState) {
	if len(state.pendingPrompts) == 0 {
		return
	}
	text := state.pendingPrompts[0]
	state.pendingPrompts = state.pendingPrompts[1:]

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: state.sessionID,
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	}
	if err := r.store.Append(context.Background(), state.sessionID, userMsg); err != nil {
		r.failFatal(state, fmt.Errorf("runtime: persist queued prompt: %w", err))
		return
	}
	r.publish(eventbus.KindAgentStart, nil)
	r.runTurn(state)
}
