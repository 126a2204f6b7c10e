package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Call is one dispatch request: the tool name/arguments plus the call ID
// that ties the result back to the originating assistant message.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Result is the outcome of one dispatched Call, always keyed by CallID so
// the FSM can reorder results to match the provider's original call order.
type Result struct {
	CallID   string
	ToolName string
	Outcome  Outcome
	Elapsed  time.Duration
	TimedOut bool
}

// RunnerConfig controls concurrency and per-call timeout. Zero values fall
// back to DefaultRunnerConfig.
type RunnerConfig struct {
	Concurrency    int
	PerCallTimeout time.Duration
}

// DefaultRunnerConfig applies a conservative 60s per-tool timeout.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Concurrency: 8, PerCallTimeout: 60 * time.Second}
}

// EventFunc receives tool_start/tool_end notifications as the runner
// dispatches and completes calls.
type EventFunc func(callID, toolName string, started bool, result *Result)

// Runner dispatches a batch of Calls concurrently against a Registry,
// enforcing per-call timeouts and isolating panics, then returns Results
// reordered to match the input order regardless of completion order.
type Runner struct {
	registry *Registry
	config   RunnerConfig
}

// NewRunner creates a Runner bound to registry.
func NewRunner(registry *Registry, config RunnerConfig) *Runner {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultRunnerConfig().Concurrency
	}
	if config.PerCallTimeout <= 0 {
		config.PerCallTimeout = DefaultRunnerConfig().PerCallTimeout
	}
	return &Runner{registry: registry, config: config}
}

// RunAll dispatches every call concurrently and blocks until all complete or
// ctx is cancelled, in which case any call still in flight is abandoned and
// reported as a cancellation error. The returned slice is always in the same
// order as calls, independent of completion order.
func (r *Runner) RunAll(ctx context.Context, calls []Call, toolCtx Context, onEvent EventFunc) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	sem := make(chan struct{}, r.config.Concurrency)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = Result{CallID: call.ID, ToolName: call.Name, Outcome: Err("aborted"), TimedOut: false}
				return
			}
			if onEvent != nil {
				onEvent(call.ID, call.Name, true, nil)
			}
			res := r.runOne(ctx, call, toolCtx)
			results[i] = res
			if onEvent != nil {
				onEvent(call.ID, call.Name, false, &res)
			}
		}(i, call)
	}
	wg.Wait()
	return results
}

// runOne executes a single call with timeout enforcement and panic
// recovery; it never lets a tool crash propagate to the caller.
func (r *Runner) runOne(ctx context.Context, call Call, toolCtx Context) Result {
	start := time.Now()

	tool, ok := r.registry.Get(call.Name)
	if !ok {
		return Result{CallID: call.ID, ToolName: call.Name, Outcome: Err(fmt.Sprintf("unknown tool: %s", call.Name)), Elapsed: time.Since(start)}
	}

	if schema := tool.Parameters(); schema != nil {
		var v any
		if err := json.Unmarshal(call.Arguments, &v); err != nil {
			return Result{CallID: call.ID, ToolName: call.Name, Outcome: Err(fmt.Sprintf("invalid arguments: %v", err)), Elapsed: time.Since(start)}
		}
		if err := schema.Validate(v); err != nil {
			return Result{CallID: call.ID, ToolName: call.Name, Outcome: Err(fmt.Sprintf("invalid arguments: %v", err)), Elapsed: time.Since(start)}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.PerCallTimeout)
	defer cancel()
	toolCtx.Context = callCtx
	toolCtx.CallID = call.ID

	type outcome struct {
		o   Outcome
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				select {
				case done <- outcome{o: Err(fmt.Sprintf("tool crashed: %v\n%s", p, debug.Stack()))}:
				default:
				}
			}
		}()
		o, err := tool.Execute(toolCtx, call.Arguments)
		select {
		case done <- outcome{o: o, err: err}:
		case <-callCtx.Done():
			// FSM already moved on (timeout); avoid leaking this goroutine
			// by letting the send be discarded.
		}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Result{CallID: call.ID, ToolName: call.Name, Outcome: Err(res.err.Error()), Elapsed: time.Since(start)}
		}
		return Result{CallID: call.ID, ToolName: call.Name, Outcome: res.o, Elapsed: time.Since(start)}
	case <-callCtx.Done():
		return Result{CallID: call.ID, ToolName: call.Name, Outcome: Err("tool timeout"), Elapsed: time.Since(start), TimedOut: true}
	}
}
