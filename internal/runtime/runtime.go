// Package runtime implements the AgentFSM: the single-threaded-cooperative
// state machine that drives one conversational session end to end —
// prompt intake, provider streaming, concurrent tool dispatch, retry and
// compaction, and event broadcasting.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arvo-systems/agentloop/internal/compaction"
	"github.com/arvo-systems/agentloop/internal/eventbus"
	"github.com/arvo-systems/agentloop/internal/observability"
	"github.com/arvo-systems/agentloop/internal/retrypolicy"
	"github.com/arvo-systems/agentloop/internal/store"
	"github.com/arvo-systems/agentloop/internal/tools"
	"github.com/arvo-systems/agentloop/pkg/models"
	"github.com/google/uuid"
)

// DefaultInboxSize bounds the runtime's internal event queue. Background
// pumps (stream reader, tool dispatcher, timers) block briefly on a full
// inbox rather than dropping state-changing messages.
const DefaultInboxSize = 64

// Options configures a Runtime for one session.
type Options struct {
	SessionID     string
	Provider      string
	Model         string
	System        string
	ContextWindow int
	EnabledTools  []string
	MaxTokens     int

	CompactionKeepTurns int
	StreamIdleTimeout   time.Duration

	RetryPolicy *retrypolicy.Policy
}

func (o Options) sanitized() Options {
	if o.SessionID == "" {
		o.SessionID = uuid.NewString()
	}
	if o.StreamIdleTimeout <= 0 {
		o.StreamIdleTimeout = 120 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.RetryPolicy == nil {
		o.RetryPolicy = retrypolicy.Default()
	}
	return o
}

// Runtime is one running AgentFSM instance bound to a session. Exactly one
// goroutine (run) owns the internal runtimeState; every other goroutine
// communicates with it exclusively by posting to inbox.
type Runtime struct {
	opts     Options
	provider Provider
	registry *tools.Registry
	toolRun  *tools.Runner
	store    store.Store
	bus      *eventbus.Bus
	usage    *compaction.UsageTracker
	compact  *compaction.Compactor
	retry    *retrypolicy.Policy

	metrics *observability.Metrics
	logger  *observability.Logger
	tracer  *observability.Tracer

	inbox chan inboxMessage
	bg    sync.WaitGroup

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Runtime and starts its loop goroutine. Callers must call
// Close when the session ends to release the goroutine and any pending
// timers.
func New(
	provider Provider,
	registry *tools.Registry,
	toolRun *tools.Runner,
	st store.Store,
	bus *eventbus.Bus,
	metrics *observability.Metrics,
	logger *observability.Logger,
	tracer *observability.Tracer,
	opts Options,
) *Runtime {
	opts = opts.sanitized()
	r := &Runtime{
		opts:     opts,
		provider: provider,
		registry: registry,
		toolRun:  toolRun,
		store:    st,
		bus:      bus,
		usage:    compaction.NewUsageTracker(opts.ContextWindow, 0),
		retry:    opts.RetryPolicy,
		metrics:  metrics,
		logger:   logger,
		tracer:   tracer,
		inbox:    make(chan inboxMessage, DefaultInboxSize),
		stopped:  make(chan struct{}),
	}
	r.compact = compaction.NewCompactor(&providerSummarizer{
		provider: Request{SessionID: opts.SessionID, Provider: opts.Provider, Model: opts.Model, MaxTokens: opts.MaxTokens},
		oneShot:  provider.OneShot,
	}, opts.CompactionKeepTurns)

	state := newRuntimeState(opts.SessionID, opts.Provider, opts.Model, opts.EnabledTools)
	go r.run(state)
	return r
}

// Close stops the loop goroutine and waits for background pumps to exit.
// Safe to call more than once.
func (r *Runtime) Close() {
	r.stopOnce.Do(func() { close(r.stopped) })
	r.bg.Wait()
}

// --- public API --------------------------------------------------------

// PromptResult is the synchronous reply to Prompt: whether the prompt was
// accepted directly into a new turn (Queued=false) or enqueued behind a
// busy state (Queued=true).
type PromptResult struct {
	Queued bool
}

// Prompt submits user text. It never blocks on the turn itself; it returns
// as soon as the FSM has decided whether to start a turn or queue.
func (r *Runtime) Prompt(ctx context.Context, text string) (PromptResult, error) {
	reply := make(chan any, 1)
	if !r.send(ctx, inboxMessage{kind: msgPrompt, text: text, reply: reply}) {
		return PromptResult{}, ctx.Err()
	}
	v, err := r.await(ctx, reply)
	if err != nil {
		return PromptResult{}, err
	}
	return v.(PromptResult), nil
}

// Abort cancels any in-flight stream or tool batch and returns the runtime
// to idle. Idempotent.
func (r *Runtime) Abort(ctx context.Context) error {
	reply := make(chan any, 1)
	if !r.send(ctx, inboxMessage{kind: msgAbort, reply: reply}) {
		return ctx.Err()
	}
	_, err := r.await(ctx, reply)
	return err
}

// GetState returns a non-blocking snapshot of the current FSM state.
func (r *Runtime) GetState(ctx context.Context) (FSMState, error) {
	reply := make(chan any, 1)
	if !r.send(ctx, inboxMessage{kind: msgGetState, reply: reply}) {
		return "", ctx.Err()
	}
	v, err := r.await(ctx, reply)
	if err != nil {
		return "", err
	}
	return v.(FSMState), nil
}

// GetContext returns an immutable snapshot of the session's message
// history as currently persisted.
func (r *Runtime) GetContext(ctx context.Context) ([]*models.Message, error) {
	return r.store.Messages(ctx, r.opts.SessionID)
}

// SetModel applies a new model from the next turn onward.
func (r *Runtime) SetModel(ctx context.Context, model string) error {
	reply := make(chan any, 1)
	if !r.send(ctx, inboxMessage{kind: msgSetModel, model: model, reply: reply}) {
		return ctx.Err()
	}
	_, err := r.await(ctx, reply)
	return err
}

// SetProvider applies a new provider label; only accepted while idle.
func (r *Runtime) SetProvider(ctx context.Context, provider string) error {
	reply := make(chan any, 1)
	if !r.send(ctx, inboxMessage{kind: msgSetProvider, provider: provider, reply: reply}) {
		return ctx.Err()
	}
	v, err := r.await(ctx, reply)
	if err != nil {
		return err
	}
	if busy, _ := v.(bool); busy {
		return ErrBusy
	}
	return nil
}

// SyncMessages replaces the session's message list; only accepted while idle.
func (r *Runtime) SyncMessages(ctx context.Context, messages []*models.Message) error {
	reply := make(chan any, 1)
	if !r.send(ctx, inboxMessage{kind: msgSyncMessages, messages: messages, reply: reply}) {
		return ctx.Err()
	}
	v, err := r.await(ctx, reply)
	if err != nil {
		return err
	}
	if busy, _ := v.(bool); busy {
		return ErrBusy
	}
	return nil
}

// Configure updates the enabled tool set from the next turn onward.
func (r *Runtime) Configure(ctx context.Context, enabledTools []string) error {
	reply := make(chan any, 1)
	if !r.send(ctx, inboxMessage{kind: msgConfigure, enabledTools: enabledTools, reply: reply}) {
		return ctx.Err()
	}
	_, err := r.await(ctx, reply)
	return err
}

// ErrBusy is returned by operations restricted to the idle state.
var ErrBusy = fmt.Errorf("runtime: busy")

func (r *Runtime) send(ctx context.Context, msg inboxMessage) bool {
	select {
	case r.inbox <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-r.stopped:
		return false
	}
}

func (r *Runtime) await(ctx context.Context, reply chan any) (any, error) {
	select {
	case v := <-reply:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.stopped:
		return nil, fmt.Errorf("runtime: closed")
	}
}

func (r *Runtime) publish(kind eventbus.Kind, mutate func(*eventbus.Event)) {
	evt := eventbus.Event{Kind: kind, Time: time.Now()}
	if mutate != nil {
		mutate(&evt)
	}
	r.bus.Publish(r.opts.SessionID, evt)
	if r.metrics != nil {
		r.metrics.RecordEventPublished(string(kind))
	}
}
