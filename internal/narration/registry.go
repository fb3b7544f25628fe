package narration

import (
	"sync"

	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
)

// Registry holds the one session alerts are spoken through. The last
// Register wins; Unregister only clears the session it is given.
type Registry struct {
	mu      sync.RWMutex
	current *Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	prev := r.current
	r.current = s
	r.mu.Unlock()

	if prev != nil && prev != s {
		logger.Info("Voice session %s replaced by %s", prev.ID(), s.ID())
		return
	}
	logger.Info("Voice session %s registered", s.ID())
}

// Unregister clears the registry if s is still the current session and
// reports whether it did.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || r.current != s {
		return false
	}
	r.current = nil
	logger.Info("Voice session %s unregistered", s.ID())
	return true
}

func (r *Registry) Current() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Speak hands text to the current session and reports whether one was
// registered. Delivery runs in the background on the session's lifetime, so
// the caller's loop never waits on synthesis.
func (r *Registry) Speak(text string, alert *models.AlertPayload) bool {
	s := r.Current()
	if s == nil {
		return false
	}

	go func() {
		if err := s.Deliver(s.Context(), text, alert); err != nil {
			logger.Warn("Voice session %s failed to deliver alert: %v", s.ID(), err)
		}
	}()
	return true
}
