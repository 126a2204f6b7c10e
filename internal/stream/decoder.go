// Package stream implements the StreamDecoder: it buffers a provider's
// chunked transport, splits it into frames, and normalizes each frame into
// a provider-independent Event via a pluggable FrameParser.
package stream

import (
	"bufio"
	"fmt"
	"io"
)

// EventKind enumerates the normalized events a StreamDecoder produces.
type EventKind string

const (
	KindTextDelta     EventKind = "text_delta"
	KindThinkingDelta EventKind = "thinking_delta"
	KindToolCallDelta EventKind = "tool_call_delta"
	KindToolCallDone  EventKind = "tool_call_done"
	KindUsage         EventKind = "usage"
	KindResponseDone  EventKind = "response_done"
	KindError         EventKind = "error"
)

// ToolCallDelta carries an incremental or final tool-call fragment, merged
// by the FSM into current_turn.tool_calls_accum keyed by ID.
type ToolCallDelta struct {
	ID              string
	Name            string
	ArgumentsChunk  string // partial JSON fragment to append
}

// Usage carries token accounting reported mid-stream or at response_done.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Event is one normalized, provider-independent stream event.
type Event struct {
	Kind     EventKind
	Text     string // text_delta / thinking_delta payload
	ToolCall ToolCallDelta
	Usage    Usage
	Err      error // set when Kind == KindError
}

// FrameParser turns one raw transport frame into zero or more normalized
// events. Implementations are provider-specific (SSE payload shape varies
// per vendor); the decoder itself is provider-agnostic.
type FrameParser func(frame []byte) ([]Event, error)

// ParseError wraps a frame the parser rejected. The FSM treats ParseError as
// fatal for the current turn.
type ParseError struct {
	Frame []byte
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stream: parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decoder reads frames from a transport, delimited by newlines (the common
// shape for SSE-style "data: ..." lines and newline-delimited JSON alike),
// and hands each to parse. It stops at the first parse error, emitting a
// synthetic error Event before returning.
type Decoder struct {
	scanner *bufio.Scanner
	parse   FrameParser
	stopped bool
}

// NewDecoder wraps r, splitting on newlines, and will call parse on each
// non-empty line.
func NewDecoder(r io.Reader, parse FrameParser) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner, parse: parse}
}

// Next reads and parses the next frame, returning the normalized events it
// produced. It returns (nil, false) when the stream is exhausted or has
// already stopped due to a parse error. A parse error is returned as a
// single KindError event with ok=true: the decoder emits the error and
// stops, it does not panic or return a Go error from Next itself.
func (d *Decoder) Next() ([]Event, bool) {
	if d.stopped {
		return nil, false
	}
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		events, err := d.parse(frame)
		if err != nil {
			d.stopped = true
			return []Event{{Kind: KindError, Err: &ParseError{Frame: frame, Err: err}}}, true
		}
		if len(events) == 0 {
			continue
		}
		return events, true
	}
	d.stopped = true
	if err := d.scanner.Err(); err != nil {
		return []Event{{Kind: KindError, Err: err}}, true
	}
	return nil, false
}
