package runtime

import (
	"github.com/arvo-systems/agentloop/internal/stream"
	"github.com/arvo-systems/agentloop/internal/tools"
	"github.com/arvo-systems/agentloop/pkg/models"
)

type msgKind int

const (
	msgPrompt msgKind = iota
	msgAbort
	msgGetState
	msgSetModel
	msgSetProvider
	msgSyncMessages
	msgConfigure

	// Posted by background pumps; generation-stamped so the loop can
	// discard anything that arrives after the turn it belongs to was
	// aborted or superseded.
	msgStreamEvents
	msgStreamEnded
	msgToolBatchDone
	msgRetryFire
	msgCompactionDone
)

// inboxMessage is the single envelope type carried on Runtime.inbox. Only
// the fields relevant to kind are populated.
type inboxMessage struct {
	kind       msgKind
	reply      chan any
	generation uint64

	// msgPrompt
	text string

	// msgSetModel / msgSetProvider
	model    string
	provider string

	// msgSyncMessages
	messages []*models.Message

	// msgConfigure
	enabledTools []string

	// msgStreamEvents
	events []stream.Event

	// msgStreamEnded / any background error
	err error

	// msgToolBatchDone
	toolResults []tools.Result
	toolCalls   []models.ToolCall

	// msgCompactionDone
	summary     *models.Message
	windowStart int
	windowEnd   int
	trigger     string
}

func (m inboxMessage) replyOK(v any) {
	if m.reply != nil {
		m.reply <- v
	}
}
