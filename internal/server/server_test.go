package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarchat/internal/archive"
	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/engine"
	"github.com/normanking/avatarchat/internal/gate"
	"github.com/normanking/avatarchat/internal/session"
)

type testEnv struct {
	sim *engine.Simulator
	ctl *session.Controller
	bus *bus.EventBus
	srv *Server
	ts  *httptest.Server
}

func newTestEnv(t *testing.T, cfg engine.SimulatorConfig, extra ...Option) *testEnv {
	t.Helper()

	sim := engine.NewSimulator(cfg, zerolog.Nop())
	b := bus.NewEventBus()
	ctl := session.NewController(sim, b, zerolog.Nop(), session.Options{
		Init:             engine.InitOption{SDKKey: "test-key", AvatarID: "avatar-1"},
		Playlist:         []string{"hello", "world"},
		RetainTranscript: true,
	})
	srv := New(Options{Addr: "127.0.0.1:0"}, ctl, b, zerolog.Nop(), extra...)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		srv.Hub().Close()
		sim.Close()
	})
	return &testEnv{sim: sim, ctl: ctl, bus: b, srv: srv, ts: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.sim.Drain(ctx))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})

	resp, body := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestState_BeforeConnect(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})

	resp, body := env.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, string(gate.PhaseIdle), body["phase"])
	assert.Equal(t, gate.GuidanceStart, body["guidance"])
	assert.Equal(t, true, body["canSend"])
}

func TestCommands_RequireConnection(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})

	resp, body := env.do(t, http.MethodPost, "/api/text", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, session.ErrNotConnected.Error(), body["error"])

	resp, _ = env.do(t, http.MethodPost, "/api/disconnect", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestConnect(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})

	resp, body := env.do(t, http.MethodPost, "/api/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, string(gate.PhaseVideoCanPlay), body["phase"])
	assert.Equal(t, false, body["loading"])
	assert.NotEmpty(t, body["sessionId"])

	resp, _ = env.do(t, http.MethodPost, "/api/connect", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSendText_RoundTrip(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})
	env.do(t, http.MethodPost, "/api/connect", nil)

	resp, _ := env.do(t, http.MethodPost, "/api/text", map[string]string{"text": "How are you?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.drain(t)

	var transcript []gate.ChatEvent
	r, err := http.Get(env.ts.URL + "/api/transcript")
	require.NoError(t, err)
	defer r.Body.Close()
	require.NoError(t, json.NewDecoder(r.Body).Decode(&transcript))

	require.Len(t, transcript, 4)
	assert.Equal(t, gate.ChatPreparingResponse, transcript[0].ChatType)
	assert.Equal(t, gate.ChatText, transcript[1].ChatType)
	assert.Equal(t, gate.ChatResponseIsEnded, transcript[3].ChatType)

	_, body := env.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, string(gate.SpeakingIdle), body["speaking"])
	assert.Equal(t, gate.GuidanceEnded, body["guidance"])
}

func TestSendText_BadRequests(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})
	env.do(t, http.MethodPost, "/api/connect", nil)

	resp, _ := env.do(t, http.MethodPost, "/api/text", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/text", "not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errBadBody.Error(), body["error"])
}

func TestEchoNext_Cycles(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})
	env.do(t, http.MethodPost, "/api/connect", nil)

	var got []string
	for i := 0; i < 3; i++ {
		resp, body := env.do(t, http.MethodPost, "/api/echo/next", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got = append(got, body["text"].(string))
		env.drain(t)
	}
	assert.Equal(t, []string{"hello", "world", "hello"}, got)
}

func TestStopSpeech_RejectedWhilePreparing(t *testing.T) {
	// The first sentence never arrives, so the gate stays in PREPARING.
	env := newTestEnv(t, engine.SimulatorConfig{ResponseDelay: time.Hour})
	env.do(t, http.MethodPost, "/api/connect", nil)
	env.do(t, http.MethodPost, "/api/text", map[string]string{"text": "hi"})

	require.Eventually(t, func() bool {
		return env.ctl.Snapshot().Speaking == gate.SpeakingPreparing
	}, 2*time.Second, 10*time.Millisecond)

	resp, body := env.do(t, http.MethodPost, "/api/speech/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["approved"])
	assert.Equal(t, gate.ReasonPreparing, body["reason"])

	resp, _ = env.do(t, http.MethodPost, "/api/text", map[string]string{"text": "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStopSpeech_ApprovedWhenIdle(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})
	env.do(t, http.MethodPost, "/api/connect", nil)

	resp, body := env.do(t, http.MethodPost, "/api/speech/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["approved"])
}

func TestClearTranscript(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})
	env.do(t, http.MethodPost, "/api/connect", nil)
	env.do(t, http.MethodPost, "/api/echo", map[string]string{"text": "One. Two."})
	env.drain(t)
	require.NotZero(t, env.ctl.Snapshot().TranscriptSize)

	resp, _ := env.do(t, http.MethodDelete, "/api/transcript", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, env.ctl.Snapshot().TranscriptSize)
}

func TestChangeAvatar(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})
	env.do(t, http.MethodPost, "/api/connect", nil)

	resp, _ := env.do(t, http.MethodPost, "/api/avatar", map[string]any{"avatar_id": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/avatar", map[string]any{"avatar_id": "avatar-2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "avatar-2", body["avatarId"])
	assert.Equal(t, "avatar-2", env.sim.AvatarID())
}

func TestSessions_ArchiveDisabled(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})

	resp, _ := env.do(t, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessions_Archived(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := newTestEnv(t, engine.SimulatorConfig{}, WithArchive(store))
	archive.NewRecorder(store, zerolog.Nop()).Attach(env.bus)

	env.do(t, http.MethodPost, "/api/connect", nil)
	sid := env.ctl.SessionID()
	env.do(t, http.MethodPost, "/api/text", map[string]string{"text": "hi"})
	env.drain(t)
	env.do(t, http.MethodPost, "/api/disconnect", nil)

	r, err := http.Get(env.ts.URL + "/api/sessions")
	require.NoError(t, err)
	defer r.Body.Close()
	var sessions []archive.SessionRecord
	require.NoError(t, json.NewDecoder(r.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, sid, sessions[0].ID)

	r2, err := http.Get(env.ts.URL + "/api/sessions/" + sid + "/transcript")
	require.NoError(t, err)
	defer r2.Body.Close()
	var entries []archive.Entry
	require.NoError(t, json.NewDecoder(r2.Body).Decode(&entries))
	assert.Len(t, entries, 4)

	resp, _ := env.do(t, http.MethodGet, "/api/sessions/missing/transcript", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestViewer_ReceivesStateAndEvents(t *testing.T) {
	env := newTestEnv(t, engine.SimulatorConfig{})

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "state", first["type"])

	require.Eventually(t, func() bool { return env.srv.Hub().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	env.do(t, http.MethodPost, "/api/connect", nil)

	var frame struct {
		Type  string    `json:"type"`
		Event bus.Event `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "event", frame.Type)
	assert.Equal(t, bus.EventSessionStarted, frame.Event.Type)
}

func TestHub_SnapshotTakenAfterRegistration(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	t.Cleanup(hub.Close)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// h.mu is held while the snapshot is taken.
		hub.Serve(w, r, func() any { return map[string]int{"viewers": len(hub.viewers)} })
	}))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type  string         `json:"type"`
		State map[string]int `json:"state"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "state", first.Type)
	assert.Equal(t, 1, first.State["viewers"])

	hub.Broadcast(bus.NewEvent(bus.EventGuidance, "s1", map[string]any{"guidance": "hi"}))
	var next struct {
		Type  string    `json:"type"`
		Event bus.Event `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, bus.EventGuidance, next.Event.Type)
}

func TestLimitParameter(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	env := newTestEnv(t, engine.SimulatorConfig{}, WithArchive(store))

	for _, path := range []string{"/api/sessions?limit=abc", "/api/sessions?limit=-1", "/api/logs?limit=1x"} {
		resp, body := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Equal(t, errBadLimit.Error(), body["error"], path)
	}

	resp, _ := env.do(t, http.MethodGet, "/api/sessions?limit=5", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://localhost:8090/ws", nil)

	check := CheckOrigin(nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "http://localhost:8090")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))
	assert.True(t, CheckOrigin([]string{"http://evil.example"})(req))
	assert.True(t, CheckOrigin([]string{"*"})(req))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrNotConnected, http.StatusConflict},
		{gate.ErrEmptyPlaylist, http.StatusConflict},
		{session.ErrEmptyMessage, http.StatusBadRequest},
		{engine.ErrInvalidOption, http.StatusBadRequest},
		{engine.ErrNotAttached, http.StatusServiceUnavailable},
		{engine.ErrAckTimeout, http.StatusGatewayTimeout},
		{archive.ErrSessionNotFound, http.StatusNotFound},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
