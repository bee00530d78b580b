// Package llm generates the agent's reply from the conversation history.
package llm

import (
	"context"
	"errors"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// ErrEmptyReply is returned when the service answers without any text.
var ErrEmptyReply = errors.New("generation returned no text")

// Request is one generation call.
type Request struct {
	// System is the persona instruction sent alongside the history.
	System string

	// History is the full conversation, ending with the user's latest turn.
	History []types.Turn
}

// Response is the generated reply plus usage. Token counts are 0 when the
// service does not report them.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	Model        string
}

// Generator produces a reply for a conversation.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}
