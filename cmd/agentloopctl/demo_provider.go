package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/arvo-systems/agentloop/internal/runtime"
	"github.com/arvo-systems/agentloop/internal/stream"
	"github.com/arvo-systems/agentloop/pkg/models"
)

// demoFrame is the line-delimited wire format newDemoProvider speaks to
// itself: a minimal stand-in for a real vendor SSE payload, just enough to
// exercise stream.Decoder end to end without any network credentials.
type demoFrame struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// newDemoProvider builds an offline Provider that echoes the latest user
// message back as a few streamed chunks. Real provider HTTP clients
// (Anthropic, OpenAI, Bedrock, ...) are out of scope for this module — the
// Provider interface is the full surface the runtime depends on — so
// agentloopctl ships this local stand-in to make the REPL usable without
// API keys.
func newDemoProvider() runtime.Provider {
	return runtime.Provider{
		StartStream: demoStartStream,
		ParseFrame:  demoParseFrame,
		OneShot:     demoOneShot,
	}
}

func demoStartStream(ctx context.Context, req runtime.Request) (io.Reader, error) {
	last := lastUserContent(req.Messages)
	chunks := strings.Fields(fmt.Sprintf("you said: %s", last))
	if len(chunks) == 0 {
		chunks = []string{"(empty prompt)"}
	}

	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		for i, word := range chunks {
			text := word
			if i < len(chunks)-1 {
				text += " "
			}
			if err := writeDemoFrame(pw, demoFrame{Kind: "text_delta", Text: text}); err != nil {
				return
			}
		}
		_ = writeDemoFrame(pw, demoFrame{Kind: "response_done"})
	}()
	go func() {
		<-ctx.Done()
		pr.Close()
	}()
	return pr, nil
}

func writeDemoFrame(w io.Writer, f demoFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func demoParseFrame(raw []byte) ([]stream.Event, error) {
	var f demoFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	switch f.Kind {
	case "text_delta":
		return []stream.Event{{Kind: stream.KindTextDelta, Text: f.Text}}, nil
	case "response_done":
		return []stream.Event{{Kind: stream.KindResponseDone}}, nil
	default:
		return nil, fmt.Errorf("demo provider: unknown frame kind %q", f.Kind)
	}
}

// demoOneShot backs compaction's Summarizer: a single non-streamed call that
// collapses a window of messages into one line, standing in for a real
// provider summarization request.
func demoOneShot(ctx context.Context, req runtime.Request) (*models.Message, error) {
	return &models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("summary of %d prior messages", len(req.Messages)),
	}, nil
}

func lastUserContent(messages []*models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
