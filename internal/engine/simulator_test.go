package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarchat/internal/gate"
)

// recorder is a Listener that keeps everything it receives.
type recorder struct {
	mu       sync.Mutex
	statuses []gate.ConnectionPhase
	chats    []gate.ChatEvent
}

func (r *recorder) OnStatus(p gate.ConnectionPhase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, p)
}

func (r *recorder) OnChat(e gate.ChatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, e)
}

func (r *recorder) chatTypes() []gate.ChatType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]gate.ChatType, len(r.chats))
	for i, c := range r.chats {
		out[i] = c.ChatType
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = nil
	r.chats = nil
}

var testInit = InitOption{SDKKey: "key", AvatarID: "avatar-1"}

func newTestSimulator(t *testing.T) (*Simulator, *recorder) {
	t.Helper()
	sim := NewSimulator(SimulatorConfig{}, zerolog.Nop())
	t.Cleanup(func() { sim.Close() })

	rec := &recorder{}
	sim.Subscribe(rec)
	require.NoError(t, sim.Init(context.Background(), testInit))
	return sim, rec
}

func drain(t *testing.T, sim *Simulator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sim.Drain(ctx))
}

func TestSimulator_InitPlaysLadder(t *testing.T) {
	sim, rec := newTestSimulator(t)

	assert.Equal(t, gate.ConnectionLadder[1:], rec.statuses)
	assert.Equal(t, "avatar-1", sim.AvatarID())
}

func TestSimulator_InitRejectsInvalidOption(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{}, zerolog.Nop())
	defer sim.Close()

	err := sim.Init(context.Background(), InitOption{AvatarID: "a"})
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestSimulator_CommandsBeforeInit(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{}, zerolog.Nop())
	defer sim.Close()

	assert.ErrorIs(t, sim.SendTextMessage("hi"), ErrNotInitialized)
	assert.ErrorIs(t, sim.StopSpeech(), ErrNotInitialized)
	assert.ErrorIs(t, sim.Destroy(), ErrNotInitialized)
}

func TestSimulator_SendTextMessageReplyCycle(t *testing.T) {
	sim, rec := newTestSimulator(t)

	require.NoError(t, sim.SendTextMessage("hello"))
	drain(t, sim)

	assert.Equal(t, []gate.ChatType{
		gate.ChatPreparingResponse, gate.ChatText, gate.ChatText, gate.ChatResponseIsEnded,
	}, rec.chatTypes())
	assert.Equal(t, "You said: hello", rec.chats[1].Message)

	ids := map[string]bool{}
	for _, c := range rec.chats {
		assert.NotEmpty(t, c.Time)
		assert.False(t, ids[c.ID], "duplicate id %s", c.ID)
		ids[c.ID] = true
	}
}

func TestSimulator_EchoSpeaksSentences(t *testing.T) {
	sim, rec := newTestSimulator(t)

	require.NoError(t, sim.Echo("One. Two!"))
	drain(t, sim)

	require.Len(t, rec.chats, 4)
	assert.Equal(t, "One.", rec.chats[1].Message)
	assert.Equal(t, "Two!", rec.chats[2].Message)
}

func TestSimulator_SttFlow(t *testing.T) {
	sim, rec := newTestSimulator(t)

	require.NoError(t, sim.StartStt())
	require.NoError(t, sim.EndStt())
	drain(t, sim)

	types := rec.chatTypes()
	require.GreaterOrEqual(t, len(types), 4)
	assert.Equal(t, []gate.ChatType{gate.ChatUserSpeechStarted, gate.ChatUserSpeechStopped, gate.ChatSTTResult, gate.ChatPreparingResponse}, types[:4])
	assert.Equal(t, gate.ChatResponseIsEnded, types[len(types)-1])
	assert.Equal(t, "Hello there.", rec.chats[2].Message)
}

func TestSimulator_EndSttWithoutRecording(t *testing.T) {
	sim, rec := newTestSimulator(t)

	require.NoError(t, sim.EndStt())
	drain(t, sim)

	assert.Equal(t, []gate.ChatType{gate.ChatSTTError}, rec.chatTypes())
}

func TestSimulator_CancelStt(t *testing.T) {
	sim, rec := newTestSimulator(t)

	require.NoError(t, sim.StartStt())
	require.NoError(t, sim.CancelStt())
	drain(t, sim)

	assert.Equal(t, []gate.ChatType{gate.ChatUserSpeechStarted, gate.ChatUserSpeechStopped}, rec.chatTypes())
}

func TestSimulator_StopSpeechCutsReplyShort(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{SentenceDelay: 200 * time.Millisecond}, zerolog.Nop())
	defer sim.Close()

	// Hold the listener on the first TEXT so StopSpeech lands mid-reply.
	firstText := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{}
	var once sync.Once
	sim.Subscribe(ListenerFuncs{
		Status: rec.OnStatus,
		Chat: func(e gate.ChatEvent) {
			rec.OnChat(e)
			if e.ChatType == gate.ChatText {
				once.Do(func() {
					close(firstText)
					<-release
				})
			}
		},
	})
	require.NoError(t, sim.Init(context.Background(), testInit))

	require.NoError(t, sim.Echo("One. Two. Three. Four."))
	<-firstText
	require.NoError(t, sim.StopSpeech())
	close(release)
	drain(t, sim)

	assert.Equal(t, []gate.ChatType{gate.ChatPreparingResponse, gate.ChatText, gate.ChatResponseIsEnded}, rec.chatTypes())
}

func TestSimulator_StopSpeechWithoutReplyIsNoop(t *testing.T) {
	sim, rec := newTestSimulator(t)

	require.NoError(t, sim.StopSpeech())
	drain(t, sim)

	assert.Empty(t, rec.chatTypes())
}

func TestSimulator_AudioEcho(t *testing.T) {
	sim, rec := newTestSimulator(t)

	require.NoError(t, sim.StartAudioEcho("UklGRg=="))
	drain(t, sim)
	assert.Equal(t, []gate.ChatType{gate.ChatPreparingResponse, gate.ChatText}, rec.chatTypes())

	require.NoError(t, sim.EndAudioEcho())
	drain(t, sim)
	assert.Equal(t, gate.ChatResponseIsEnded, rec.chatTypes()[2])
}

func TestSimulator_ChangeAvatar(t *testing.T) {
	sim, rec := newTestSimulator(t)
	rec.reset()

	require.NoError(t, sim.ChangeAvatar(context.Background(), ChangeAvatarOption{AvatarID: "avatar-2"}))

	assert.Equal(t, []gate.ConnectionPhase{gate.PhaseVideoLoad, gate.PhaseVideoCanPlay}, rec.statuses)
	assert.Equal(t, "avatar-2", sim.AvatarID())
}

func TestSimulator_ChangeAvatarEndsReplyInProgress(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{ResponseDelay: time.Hour}, zerolog.Nop())
	defer sim.Close()
	rec := &recorder{}
	sim.Subscribe(rec)
	require.NoError(t, sim.Init(context.Background(), testInit))

	require.NoError(t, sim.SendTextMessage("hi"))
	require.Eventually(t, func() bool { return len(rec.chatTypes()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sim.ChangeAvatar(ctx, ChangeAvatarOption{AvatarID: "avatar-2"}))

	assert.Equal(t, []gate.ChatType{gate.ChatPreparingResponse, gate.ChatResponseIsEnded}, rec.chatTypes())
}

func TestSimulator_ChangeAvatarWithoutReply(t *testing.T) {
	sim, rec := newTestSimulator(t)
	rec.reset()

	require.NoError(t, sim.ChangeAvatar(context.Background(), ChangeAvatarOption{AvatarID: "avatar-2"}))
	assert.Empty(t, rec.chatTypes())
}

func TestSimulator_ClearMessageList(t *testing.T) {
	sim, _ := newTestSimulator(t)

	require.NoError(t, sim.ClearMessageList())
	require.NoError(t, sim.ClearMessageList())
	assert.Equal(t, 2, sim.ClearedCount())
}

func TestSimulator_DestroyReportsIdle(t *testing.T) {
	sim, rec := newTestSimulator(t)
	rec.reset()

	require.NoError(t, sim.Destroy())
	drain(t, sim)

	assert.Equal(t, []gate.ConnectionPhase{gate.PhaseIdle}, rec.statuses)
	assert.ErrorIs(t, sim.SendTextMessage("x"), ErrNotInitialized)
}

func TestSimulator_SubscribeReplacesListener(t *testing.T) {
	sim, first := newTestSimulator(t)
	second := &recorder{}
	sim.Subscribe(second)

	require.NoError(t, sim.SendTextMessage("hi"))
	drain(t, sim)

	assert.Empty(t, first.chatTypes())
	assert.NotEmpty(t, second.chatTypes())
}
