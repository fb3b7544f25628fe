package voice

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/riskwatch/internal/models"
	"github.com/rewired-gh/riskwatch/internal/narration"
)

type echoAgent struct{}

func (echoAgent) Respond(_ context.Context, threadID, input string) (string, error) {
	return threadID + ": " + input, nil
}

func (echoAgent) ReactToAlert(_ context.Context, _, text string, _ models.AlertPayload) (string, error) {
	return "heads up, " + text, nil
}

type forgettingAgent struct {
	echoAgent
	mu        sync.Mutex
	forgotten []string
}

func (a *forgettingAgent) Forget(threadID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forgotten = append(a.forgotten, threadID)
}

func (a *forgettingAgent) list() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.forgotten...)
}

type countingObserver struct {
	opened atomic.Int32
	closed atomic.Int32
}

func (o *countingObserver) SessionOpened() { o.opened.Add(1) }
func (o *countingObserver) SessionClosed() { o.closed.Add(1) }

type harness struct {
	registry *narration.Registry
	observer *countingObserver
	url      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{registry: narration.NewRegistry(), observer: &countingObserver{}}
	srv := httptest.NewServer(NewHandler(h.registry, nil, echoAgent{}, h.observer, nil))
	t.Cleanup(srv.Close)
	h.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) narration.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg narration.Message
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func start(t *testing.T, ws *websocket.Conn, threadID string) narration.Message {
	t.Helper()
	require.NoError(t, ws.WriteJSON(clientMessage{Type: MsgStart, ThreadID: threadID}))
	msg := read(t, ws)
	require.Equal(t, narration.MsgReady, msg.Type)
	return msg
}

func TestHandler_RequiresStart(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)

	require.NoError(t, ws.WriteJSON(clientMessage{Type: MsgMessage, Text: "hi"}))
	msg := read(t, ws)
	assert.Equal(t, narration.MsgError, msg.Type)
	assert.Contains(t, msg.Error, "start")
	assert.Nil(t, h.registry.Current())
}

func TestHandler_StartRegistersSession(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)

	ready := start(t, ws, "thread-7")
	assert.Equal(t, "thread-7", ready.ThreadID)
	assert.NotEmpty(t, ready.SessionID)

	current := h.registry.Current()
	require.NotNil(t, current)
	assert.Equal(t, ready.SessionID, current.ID())
	assert.Equal(t, "thread-7", current.ThreadID())
	assert.Equal(t, int32(1), h.observer.opened.Load())
}

func TestHandler_MessageAnswersWithText(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)
	start(t, ws, "t1")

	require.NoError(t, ws.WriteJSON(clientMessage{Type: MsgMessage, Text: "how risky is it?"}))
	assert.Equal(t, narration.MsgAgentThinking, read(t, ws).Type)
	msg := read(t, ws)
	assert.Equal(t, narration.MsgAgentText, msg.Type)
	assert.Equal(t, "t1: how risky is it?", msg.Text)
}

func TestHandler_UnknownType(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)
	start(t, ws, "t1")

	require.NoError(t, ws.WriteJSON(clientMessage{Type: "audio_chunk"}))
	msg := read(t, ws)
	assert.Equal(t, narration.MsgError, msg.Type)
	assert.Contains(t, msg.Error, "audio_chunk")
}

func TestHandler_RegistrySpeaksToClient(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)
	start(t, ws, "t1")

	alert := &models.AlertPayload{ID: "a1", AlertType: models.AlertTypeRiskCritical, RiskScore: 95}
	require.True(t, h.registry.Speak("risk at 95", alert))

	assert.Equal(t, narration.MsgAgentThinking, read(t, ws).Type)
	msg := read(t, ws)
	assert.Equal(t, narration.MsgAgentText, msg.Type)
	assert.Equal(t, "heads up, risk at 95", msg.Text)
	require.NotNil(t, msg.Alert)
	assert.Equal(t, "a1", msg.Alert.ID)
}

func TestHandler_StopUnregisters(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t)
	start(t, ws, "t1")

	require.NoError(t, ws.WriteJSON(clientMessage{Type: MsgStop}))
	assert.Eventually(t, func() bool { return h.registry.Current() == nil }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.observer.closed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_CloseForgetsThread(t *testing.T) {
	agent := &forgettingAgent{}
	srv := httptest.NewServer(NewHandler(narration.NewRegistry(), nil, agent, nil, nil))
	t.Cleanup(srv.Close)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	start(t, ws, "t-forget")
	require.NoError(t, ws.WriteJSON(clientMessage{Type: MsgStop}))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"t-forget"}, agent.list())
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_NewConnectionReplacesSession(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t)
	start(t, first, "old")
	second := h.dial(t)
	ready := start(t, second, "new")

	require.Equal(t, ready.SessionID, h.registry.Current().ID())

	// The replaced connection leaving must not clear the new session.
	require.NoError(t, first.WriteJSON(clientMessage{Type: MsgStop}))
	assert.Eventually(t, func() bool { return h.observer.closed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, h.registry.Current())
	assert.Equal(t, ready.SessionID, h.registry.Current().ID())
}

func TestHandler_RejectsOrigin(t *testing.T) {
	registry := narration.NewRegistry()
	srv := httptest.NewServer(NewHandler(registry, nil, nil, nil, []string{"https://app.example"}))
	defer srv.Close()

	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}
