package runtime

import (
	"context"
	"io"

	"github.com/arvo-systems/agentloop/internal/stream"
	"github.com/arvo-systems/agentloop/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolSpec describes one tool's capability for inclusion in a provider
// request. It mirrors tools.Tool's read-only surface without requiring the
// provider adapter to depend on the tools package's execution machinery.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// Request is the outgoing turn: the full message history plus the effective
// tool set and model selection for this call.
type Request struct {
	SessionID string
	Provider  string
	Model     string
	System    string
	Messages  []*models.Message
	Tools     []ToolSpec
	MaxTokens int
}

// Provider is the external collaborator the AgentFSM drives. A concrete
// implementation owns the HTTP client and credentials for one vendor;
// StartStream's returned io.Reader is fed to a stream.Decoder by the
// runtime loop, so the provider need only hand back a transport-level
// byte stream of newline-delimited frames. Cancellation is expressed
// through ctx rather than a separate stream handle: cancelling ctx must
// stop the provider from writing further bytes to the reader.
type Provider struct {
	StartStream func(ctx context.Context, req Request) (io.Reader, error)
	ParseFrame  func(frame []byte) ([]stream.Event, error)
	OneShot     func(ctx context.Context, req Request) (*models.Message, error)
}

// providerSummarizer adapts a Provider's OneShot call to compaction.Summarizer,
// so Compactor never depends on the runtime or provider packages directly.
type providerSummarizer struct {
	provider Request
	oneShot  func(ctx context.Context, req Request) (*models.Message, error)
}

func (s *providerSummarizer) Summarize(ctx context.Context, messages []*models.Message) (string, error) {
	req := s.provider
	req.Messages = messages
	req.System = "Summarize the preceding conversation for continuity. Be concise; preserve decisions, open questions, and facts a future turn would need."
	msg, err := s.oneShot(ctx, req)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}
