package stream

import (
	"errors"
	"strings"
	"testing"
)

// lineParser treats each frame as "kind:text" for test purposes.
func lineParser(frame []byte) ([]Event, error) {
	s := string(frame)
	switch {
	case strings.HasPrefix(s, "text:"):
		return []Event{{Kind: KindTextDelta, Text: strings.TrimPrefix(s, "text:")}}, nil
	case s == "done":
		return []Event{{Kind: KindResponseDone}}, nil
	case s == "bad":
		return nil, errors.New("malformed frame")
	default:
		return nil, nil
	}
}

func TestDecoderDeliversInFrameOrder(t *testing.T) {
	r := strings.NewReader("text:hello\ntext: world\ndone\n")
	d := NewDecoder(r, lineParser)

	var got []Event
	for {
		events, ok := d.Next()
		if !ok {
			break
		}
		got = append(got, events...)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Text != "hello" || got[1].Text != " world" {
		t.Fatalf("unexpected text order: %+v", got)
	}
	if got[2].Kind != KindResponseDone {
		t.Fatalf("expected response_done last, got %+v", got[2])
	}
}

func TestDecoderSkipsBlankLines(t *testing.T) {
	r := strings.NewReader("\n\ntext:x\n\ndone\n")
	d := NewDecoder(r, lineParser)
	var count int
	for {
		events, ok := d.Next()
		if !ok {
			break
		}
		count += len(events)
	}
	if count != 2 {
		t.Fatalf("expected 2 events, got %d", count)
	}
}

func TestDecoderStopsOnParseError(t *testing.T) {
	r := strings.NewReader("text:a\nbad\ntext:b\n")
	d := NewDecoder(r, lineParser)

	events, ok := d.Next()
	if !ok || events[0].Kind != KindTextDelta {
		t.Fatalf("expected first text_delta, got %+v ok=%v", events, ok)
	}

	events, ok = d.Next()
	if !ok {
		t.Fatal("expected an error event, got none")
	}
	if events[0].Kind != KindError {
		t.Fatalf("expected error event, got %+v", events[0])
	}
	var parseErr *ParseError
	if !errors.As(events[0].Err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", events[0].Err)
	}

	// Decoder must stop after a parse error: no further frames delivered.
	_, ok = d.Next()
	if ok {
		t.Fatal("expected decoder to stop after parse error")
	}
}

func TestDecoderExhaustion(t *testing.T) {
	r := strings.NewReader("")
	d := NewDecoder(r, lineParser)
	_, ok := d.Next()
	if ok {
		t.Fatal("expected immediate exhaustion on empty reader")
	}
}
