package narration

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
)

var (
	ErrSessionClosed = errors.New("narration session closed")
	ErrNoAgent       = errors.New("no agent configured")
)

// State is the speaking state of a session.
type State int

const (
	StateIdle State = iota
	StateSpeaking
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StateInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is one connected voice client. At most one utterance is in flight;
// starting another interrupts the current one first.
type Session struct {
	id        string
	transport Transport
	synth     Synthesizer
	agent     Agent

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	threadID   string
	state      State
	task       *speechTask
	closed     bool
	turn       uint64
	turnCancel context.CancelFunc
}

// NewSession creates an idle session. synth may be nil, in which case the
// session delivers text only.
func NewSession(transport Transport, synth Synthesizer, agent Agent) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        uuid.New().String(),
		transport: transport,
		synth:     synth,
		agent:     agent,
		ctx:       ctx,
		cancel:    cancel,
		threadID:  uuid.New().String(),
	}
}

func (s *Session) ID() string { return s.id }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

func (s *Session) SetThreadID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.threadID = id
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Speak synthesizes text and streams it to the client, blocking until the
// utterance finishes, fails or is interrupted. An interrupted utterance
// returns nil.
func (s *Session) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" || s.synth == nil {
		return nil
	}

	s.Interrupt()

	task := newSpeechTask(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		task.cancel()
		return ErrSessionClosed
	}
	raced := s.task
	s.task = task
	s.state = StateSpeaking
	s.mu.Unlock()

	if raced != nil {
		raced.Stop()
	}

	_ = s.send(speakingMessage(true))
	err := s.stream(task, text)
	s.finish(task, err)
	return err
}

func (s *Session) stream(t *speechTask, text string) error {
	audio, err := s.synth.Stream(t.ctx, text)
	if err != nil {
		if !t.Alive() {
			return nil
		}
		return fmt.Errorf("failed to start synthesis: %w", err)
	}
	if !t.attach(audio) {
		return nil
	}

	for t.Alive() {
		chunk, err := audio.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if !t.Alive() {
				return nil
			}
			return fmt.Errorf("failed to read audio: %w", err)
		}
		if !t.Alive() {
			return nil
		}
		if len(chunk) == 0 {
			continue
		}
		msg := Message{Type: MsgAgentAudio, Audio: base64.StdEncoding.EncodeToString(chunk)}
		if err := s.send(msg); err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
	}
	return nil
}

// finish releases the task. Only the task still installed on the session
// reports completion; a task replaced by an interrupt stays quiet.
func (s *Session) finish(t *speechTask, err error) {
	t.closeStream()
	t.cancel()

	s.mu.Lock()
	current := s.task == t
	if current {
		s.task = nil
		s.state = StateIdle
	}
	s.mu.Unlock()

	if !current {
		return
	}
	if err != nil {
		logger.Warn("Session %s speech failed: %v", s.id, err)
		_ = s.send(Message{Type: MsgError, Error: err.Error()})
	}
	_ = s.send(speakingMessage(false))
}

// Interrupt stops the in-flight utterance, if any. The stopped notification
// is sent before Interrupt returns, so it precedes any later synthesis.
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	t := s.task
	if t == nil {
		s.mu.Unlock()
		return false
	}
	s.task = nil
	s.state = StateInterrupted
	s.mu.Unlock()

	t.Stop()
	_ = s.send(speakingMessage(false))

	s.mu.Lock()
	if s.state == StateInterrupted {
		s.state = StateIdle
	}
	s.mu.Unlock()

	logger.Debug("Session %s interrupted", s.id)
	return true
}

// beginTurn starts a request/reply exchange and cancels the previous one,
// so only the newest turn may reach Speak.
func (s *Session) beginTurn(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	prev := s.turnCancel
	s.turn++
	gen := s.turn
	s.turnCancel = cancel
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
	return ctx, gen
}

func (s *Session) endTurn(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn == gen && s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
}

func (s *Session) superseded(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn != gen
}

// HandleUserInput barges in on any current speech or pending reply, asks
// the agent for a reply and speaks it. A reply overtaken by newer input is
// dropped.
func (s *Session) HandleUserInput(ctx context.Context, text string) error {
	ctx, gen := s.beginTurn(ctx)
	defer s.endTurn(gen)
	s.Interrupt()

	if s.agent == nil {
		_ = s.send(Message{Type: MsgError, Error: ErrNoAgent.Error()})
		return ErrNoAgent
	}

	_ = s.send(Message{Type: MsgAgentThinking})
	reply, err := s.agent.Respond(ctx, s.ThreadID(), text)
	if s.superseded(gen) {
		logger.Debug("Session %s dropped superseded reply", s.id)
		return nil
	}
	if err != nil {
		_ = s.send(Message{Type: MsgError, Error: "agent failed to respond"})
		return fmt.Errorf("agent respond: %w", err)
	}

	_ = s.send(Message{Type: MsgAgentText, Text: reply})
	return s.Speak(ctx, reply)
}

// ProcessAlert lets the agent react to an alert before speaking. Without an
// agent, or if the agent fails, the alert text is spoken as-is.
func (s *Session) ProcessAlert(ctx context.Context, text string, alert models.AlertPayload) error {
	ctx, gen := s.beginTurn(ctx)
	defer s.endTurn(gen)
	s.Interrupt()
	_ = s.send(Message{Type: MsgAgentThinking})

	reply := text
	if s.agent != nil {
		r, err := s.agent.ReactToAlert(ctx, s.ThreadID(), text, alert)
		if err != nil {
			logger.Warn("Agent failed to react to %s, speaking alert text: %v", alert.AlertType, err)
		} else if strings.TrimSpace(r) != "" {
			reply = r
		}
	}
	if s.superseded(gen) {
		logger.Debug("Session %s dropped superseded %s narration", s.id, alert.AlertType)
		return nil
	}

	_ = s.send(Message{Type: MsgAgentText, Text: reply, Alert: &alert})
	return s.Speak(ctx, reply)
}

// Deliver speaks text, routing through the agent when alert is set.
func (s *Session) Deliver(ctx context.Context, text string, alert *models.AlertPayload) error {
	if alert != nil {
		return s.ProcessAlert(ctx, text, *alert)
	}
	_ = s.send(Message{Type: MsgAgentText, Text: text})
	return s.Speak(ctx, text)
}

// Send writes msg to the client.
func (s *Session) Send(msg Message) error {
	return s.send(msg)
}

func (s *Session) send(msg Message) error {
	if msg.SessionID == "" {
		msg.SessionID = s.id
	}
	if err := s.transport.Send(msg); err != nil {
		logger.Debug("Session %s failed to send %s: %v", s.id, msg.Type, err)
		return err
	}
	return nil
}

// Close interrupts any speech and rejects further utterances.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Interrupt()
	s.cancel()
}
