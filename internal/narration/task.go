package narration

import (
	"context"
	"sync"
	"sync/atomic"
)

// speechTask is one in-flight utterance. Stop is the single cancellation
// handle: it clears the liveness flag, cancels the synthesis context and
// closes the attached audio stream so a blocked read returns at once.
type speechTask struct {
	ctx    context.Context
	cancel context.CancelFunc
	alive  atomic.Bool

	mu     sync.Mutex
	stream AudioStream
	closed bool
}

func newSpeechTask(parent context.Context) *speechTask {
	ctx, cancel := context.WithCancel(parent)
	t := &speechTask{ctx: ctx, cancel: cancel}
	t.alive.Store(true)
	return t
}

func (t *speechTask) Alive() bool {
	return t.alive.Load() && t.ctx.Err() == nil
}

// attach binds the live stream to the task. It reports false, closing the
// stream, if the task was stopped before the stream opened.
func (t *speechTask) attach(stream AudioStream) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.alive.Load() {
		_ = stream.Close()
		return false
	}
	t.stream = stream
	return true
}

func (t *speechTask) Stop() {
	t.alive.Store(false)
	t.cancel()
	t.closeStream()
}

func (t *speechTask) closeStream() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.stream != nil {
		_ = t.stream.Close()
	}
}
