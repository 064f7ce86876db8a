package copilot

import (
	"context"
	"errors"
)

// ErrUnknownSession is returned for operations on session ids that were
// never created or were already terminated.
var ErrUnknownSession = errors.New("copilot: unknown session")

// ErrUnknownModel is returned fast when a session names a model the service
// does not offer.
var ErrUnknownModel = errors.New("copilot: unknown model")

// Client is the uniform send/stream interface over the external chat
// service. Session ids are caller-assigned strings.
type Client interface {
	// CreateSession registers a session under a caller-assigned id.
	CreateSession(sessionID string, opts SessionOptions) error

	// SendBlocking sends a prompt and waits for the full reply.
	SendBlocking(ctx context.Context, sessionID, prompt string) (Message, error)

	// SendStreaming sends a prompt and returns a channel of cumulative
	// snapshots (see Chunk). The channel is closed after the terminal
	// chunk. Cancelling ctx aborts the stream; no further chunks are
	// delivered after cancellation.
	SendStreaming(ctx context.Context, sessionID, prompt string) (<-chan Chunk, error)

	// TerminateSession releases a session. Terminating an unknown session
	// is a no-op.
	TerminateSession(sessionID string) error

	// ListModels returns the model ids the service offers.
	ListModels(ctx context.Context) ([]string, error)

	// SubscribeToolEvents registers a handler on the tool/reasoning event
	// channel under a subscriber id. Handlers observe events for every
	// session and filter by ToolEvent.SessionID.
	SubscribeToolEvents(id string, handler ToolEventHandler)

	// UnsubscribeToolEvents removes a tool event handler.
	UnsubscribeToolEvents(id string)
}
