// Package narration owns the single live voice session: speech synthesis
// streaming, barge-in interruption and the registry alerts are spoken through.
package narration

import (
	"context"

	"github.com/rewired-gh/riskwatch/internal/models"
)

// Server-to-client message types.
const (
	MsgReady         = "ready"
	MsgAgentThinking = "agent_thinking"
	MsgAgentText     = "agent_text"
	MsgAgentSpeaking = "agent_speaking"
	MsgAgentAudio    = "agent_audio"
	MsgError         = "error"
)

// Message is one frame sent to the connected client.
type Message struct {
	Type       string               `json:"type"`
	SessionID  string               `json:"session_id,omitempty"`
	ThreadID   string               `json:"thread_id,omitempty"`
	Text       string               `json:"text,omitempty"`
	IsSpeaking *bool                `json:"is_speaking,omitempty"`
	Audio      string               `json:"audio,omitempty"`
	Alert      *models.AlertPayload `json:"alert,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func speakingMessage(on bool) Message {
	return Message{Type: MsgAgentSpeaking, IsSpeaking: &on}
}

// Transport delivers messages to the client. Implementations serialize
// concurrent Send calls.
type Transport interface {
	Send(msg Message) error
}

// AudioStream yields synthesized audio chunks until io.EOF. Close must be
// safe to call concurrently with a blocked Next and must unblock it.
type AudioStream interface {
	Next() ([]byte, error)
	Close() error
}

// Synthesizer turns text into a streamed audio response.
type Synthesizer interface {
	Stream(ctx context.Context, text string) (AudioStream, error)
}

// Agent produces the text a session speaks.
type Agent interface {
	Respond(ctx context.Context, threadID, input string) (string, error)
	ReactToAlert(ctx context.Context, threadID, text string, alert models.AlertPayload) (string, error)
}
