package runtime

import (
	"strings"
	"time"

	"github.com/arvo-systems/agentloop/internal/store"
	"github.com/arvo-systems/agentloop/internal/stream"
	"github.com/arvo-systems/agentloop/internal/tools"
	"github.com/arvo-systems/agentloop/pkg/models"
)

// FSMState is one of the four states the runtime loop occupies.
type FSMState string

const (
	StateIdle           FSMState = "idle"
	StateRunning        FSMState = "running"
	StateStreaming      FSMState = "streaming"
	StateExecutingTools FSMState = "executing_tools"
)

// accumulatingToolCall merges tool_call_delta fragments by id until
// tool_call_done (or response_done) finalizes the call.
type accumulatingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// currentTurn accumulates one in-flight provider turn. It is discarded,
// never persisted, if the turn is aborted before response_done.
type currentTurn struct {
	assistantAccum  strings.Builder
	toolCallOrder   []string
	toolCalls       map[string]*accumulatingToolCall
	usageAccum      stream.Usage
	startedAt       time.Time
	attemptNo       int
	thinkingStarted bool
}

func newCurrentTurn(attemptNo int) *currentTurn {
	return &currentTurn{
		toolCalls: make(map[string]*accumulatingToolCall),
		startedAt: time.Now(),
		attemptNo: attemptNo,
	}
}

func (t *currentTurn) mergeToolCallDelta(d stream.ToolCallDelta) {
	tc, ok := t.toolCalls[d.ID]
	if !ok {
		tc = &accumulatingToolCall{id: d.ID, name: d.Name}
		t.toolCalls[d.ID] = tc
		t.toolCallOrder = append(t.toolCallOrder, d.ID)
	}
	if d.Name != "" {
		tc.name = d.Name
	}
	tc.args.WriteString(d.ArgumentsChunk)
}

func (t *currentTurn) finalToolCalls() []models.ToolCall {
	if len(t.toolCallOrder) == 0 {
		return nil
	}
	calls := make([]models.ToolCall, 0, len(t.toolCallOrder))
	for _, id := range t.toolCallOrder {
		tc := t.toolCalls[id]
		raw := tc.args.String()
		if raw == "" {
			raw = "{}"
		}
		calls = append(calls, models.ToolCall{ID: tc.id, Name: tc.name, Arguments: []byte(raw)})
	}
	return calls
}

// runtimeState holds every mutable field the loop goroutine needs across
// an iteration. It is owned exclusively by that goroutine and never
// touched concurrently.
type runtimeState struct {
	fsm FSMState

	pendingPrompts []string

	turn *currentTurn

	streamCancel func()
	toolCancel   func()
	toolsActive  bool

	retryTimer   *time.Timer
	retryAttempt int

	provider     string
	model        string
	enabledTools []string
	features     map[string]bool

	// generation increments every time the loop starts a new turn,
	// cancels a stream, or aborts. Background goroutines stamp outgoing
	// messages with the generation that was active when they started;
	// the loop drops any message whose generation has gone stale.
	generation uint64

	sessionID string

	// toolGuard tracks tool calls awaiting a result so finalizeTurn can skip
	// its repair rescan on the common path where nothing is dangling.
	toolGuard *store.ToolCallGuard
}

func newRuntimeState(sessionID, provider, model string, enabledTools []string) *runtimeState {
	return &runtimeState{
		fsm:          StateIdle,
		provider:     provider,
		model:        model,
		enabledTools: append([]string(nil), enabledTools...),
		features:     make(map[string]bool),
		sessionID:    sessionID,
		toolGuard:    store.NewToolCallGuard(),
	}
}

// toolSpecsFor resolves the effective tool set for the next turn from a
// registry, honoring enabledTools as an allow-list (empty means "all").
func toolSpecsFor(registry *tools.Registry, enabledTools []string) []ToolSpec {
	names := registry.Names()
	if len(enabledTools) > 0 {
		allowed := make(map[string]bool, len(enabledTools))
		for _, n := range enabledTools {
			allowed[n] = true
		}
		filtered := names[:0:0]
		for _, n := range names {
			if allowed[n] {
				filtered = append(filtered, n)
			}
		}
		names = filtered
	}
	specs := make([]ToolSpec, 0, len(names))
	for _, n := range names {
		t, ok := registry.Get(n)
		if !ok {
			continue
		}
		specs = append(specs, ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return specs
}
