package tools

import (
	"encoding/json"
	"fmt"
	"time"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaFor compiles a jsonschema.Schema from a Go struct via invopop's
// reflector, so bundled tools declare their parameters as typed structs
// instead of hand-written schema literals.
func schemaFor(v any) *jsonschema.Schema {
	reflector := &invopop.Reflector{ExpandedStruct: true}
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil
	}
	compiled, err := jsonschema.CompileString("schema.json", string(raw))
	if err != nil {
		return nil
	}
	return compiled
}

// EchoArguments is the parameter shape for the bundled "echo" tool.
type EchoArguments struct {
	Text string `json:"text" jsonschema:"required,description=text to echo back"`
}

// EchoTool returns the argument text as its result, unmodified. It exists
// to exercise the ToolRunner end to end in tests.
type EchoTool struct {
	schema *jsonschema.Schema
}

// NewEchoTool builds the echo tool with its schema pre-compiled.
func NewEchoTool() *EchoTool {
	return &EchoTool{schema: schemaFor(EchoArguments{})}
}

func (t *EchoTool) Name() string        { return "echo" }
func (t *EchoTool) Description() string { return "returns the given text unchanged" }
func (t *EchoTool) Parameters() *jsonschema.Schema { return t.schema }

func (t *EchoTool) Execute(ctx Context, arguments json.RawMessage) (Outcome, error) {
	var args EchoArguments
	if err := json.Unmarshal(arguments, &args); err != nil {
		return Outcome{}, fmt.Errorf("decode arguments: %w", err)
	}
	return OK(args.Text), nil
}

// SleepArguments is the parameter shape for the bundled "sleep" tool, used
// in tests to exercise parallel out-of-order completion and per-tool
// timeout.
type SleepArguments struct {
	Milliseconds int `json:"milliseconds" jsonschema:"required,description=how long to sleep before returning"`
}

// SleepTool sleeps for the requested duration then returns "done".
type SleepTool struct {
	schema *jsonschema.Schema
}

// NewSleepTool builds the sleep tool with its schema pre-compiled.
func NewSleepTool() *SleepTool {
	return &SleepTool{schema: schemaFor(SleepArguments{})}
}

func (t *SleepTool) Name() string        { return "sleep" }
func (t *SleepTool) Description() string { return "sleeps for the given duration then returns" }
func (t *SleepTool) Parameters() *jsonschema.Schema { return t.schema }

func (t *SleepTool) Execute(ctx Context, arguments json.RawMessage) (Outcome, error) {
	var args SleepArguments
	if err := json.Unmarshal(arguments, &args); err != nil {
		return Outcome{}, fmt.Errorf("decode arguments: %w", err)
	}
	select {
	case <-time.After(time.Duration(args.Milliseconds) * time.Millisecond):
		return OK("done"), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
