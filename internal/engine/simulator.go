package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/gate"
)

// SimulatorConfig tunes the pacing of simulated events. Zero delays deliver
// events as fast as the worker can run.
type SimulatorConfig struct {
	StatusDelay   time.Duration
	ResponseDelay time.Duration
	SentenceDelay time.Duration
	SttTranscript string
}

// step is one scheduled callback. Steps with a non-zero reply generation are
// dropped once that reply has been cut short.
type step struct {
	delay  time.Duration
	reply  uint64
	status gate.ConnectionPhase
	chat   gate.ChatType
	msg    string
	done   chan struct{}
}

// Simulator is an in-process Engine. It plays the same callback sequences the
// vendor engine produces, delivered one at a time from a single worker.
type Simulator struct {
	cfg    SimulatorConfig
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	listener    Listener
	initialized bool
	avatarID    string
	replyGen    uint64
	replyCut    chan struct{} // closed when replyGen moves on
	replying    bool
	recording   bool
	cleared     int

	queue  chan step
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSimulator starts the simulator worker. Call Close to stop it.
func NewSimulator(cfg SimulatorConfig, logger zerolog.Logger) *Simulator {
	if cfg.SttTranscript == "" {
		cfg.SttTranscript = "Hello there."
	}
	s := &Simulator{
		cfg:    cfg,
		logger: logger.With().Str("component", "engine-simulator").Logger(),
		now:    time.Now,
		queue:  make(chan step, 256),
		stopCh: make(chan struct{}),
	}
	s.replyCut = make(chan struct{})
	s.wg.Add(1)
	go s.run()
	return s
}

// Close stops the worker. Pending events are discarded.
func (s *Simulator) Close() error {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()
	return nil
}

func (s *Simulator) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case st := <-s.queue:
			s.play(st)
		}
	}
}

func (s *Simulator) play(st step) {
	if st.done != nil {
		close(st.done)
		return
	}
	if s.stale(st) {
		return
	}
	if st.delay > 0 && !s.wait(st) {
		return
	}

	s.mu.Lock()
	l := s.listener
	if st.chat == gate.ChatResponseIsEnded && st.reply == s.replyGen {
		s.replying = false
	}
	s.mu.Unlock()
	if l == nil {
		return
	}

	if st.status != "" {
		l.OnStatus(st.status)
		return
	}
	l.OnChat(gate.ChatEvent{
		ID:       uuid.NewString(),
		ChatType: st.chat,
		Message:  st.msg,
		Time:     s.now().UTC().Format(time.RFC3339Nano),
	})
}

// wait sleeps for the step's delay. It gives up early when the simulator
// stops or the step's reply is cut short, and reports whether to play it.
func (s *Simulator) wait(st step) bool {
	t := time.NewTimer(st.delay)
	defer t.Stop()
	for {
		s.mu.Lock()
		cut := s.replyCut
		stale := st.reply != 0 && st.reply != s.replyGen
		s.mu.Unlock()
		if stale {
			return false
		}
		if st.reply == 0 {
			cut = nil
		}

		select {
		case <-s.stopCh:
			return false
		case <-t.C:
			return !s.stale(st)
		case <-cut:
		}
	}
}

// nextReplyLocked invalidates every pending step of the current reply. s.mu
// must be held.
func (s *Simulator) nextReplyLocked() {
	s.replyGen++
	close(s.replyCut)
	s.replyCut = make(chan struct{})
}

func (s *Simulator) stale(st step) bool {
	if st.reply == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return st.reply != s.replyGen
}

func (s *Simulator) enqueue(steps ...step) {
	for _, st := range steps {
		select {
		case s.queue <- st:
		case <-s.stopCh:
			return
		}
	}
}

// Drain blocks until every event queued so far has been delivered.
func (s *Simulator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	s.enqueue(step{done: done})
	select {
	case <-done:
		return nil
	case <-s.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers the callback target, replacing any previous one.
func (s *Simulator) Subscribe(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Init plays the connection ladder and returns once VIDEO_CAN_PLAY has been
// delivered.
func (s *Simulator) Init(ctx context.Context, opt InitOption) error {
	if err := opt.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.initialized = true
	s.avatarID = opt.AvatarID
	s.mu.Unlock()

	for _, phase := range gate.ConnectionLadder[1:] {
		s.enqueue(step{delay: s.cfg.StatusDelay, status: phase})
	}
	s.logger.Debug().Str("avatar", opt.AvatarID).Msg("Simulated init")
	return s.Drain(ctx)
}

// Destroy cuts any reply short and reports IDLE.
func (s *Simulator) Destroy() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	s.initialized = false
	s.nextReplyLocked()
	s.replying = false
	s.recording = false
	s.mu.Unlock()

	s.enqueue(step{status: gate.PhaseIdle})
	return nil
}

func (s *Simulator) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// beginReply opens a new reply generation.
func (s *Simulator) beginReply() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReplyLocked()
	s.replying = true
	return s.replyGen
}

// reply schedules PREPARING_RESPONSE, one TEXT per sentence and
// RESPONSE_IS_ENDED.
func (s *Simulator) reply(sentences []string) {
	gen := s.beginReply()
	steps := []step{{reply: gen, chat: gate.ChatPreparingResponse}}
	for i, sentence := range sentences {
		delay := s.cfg.SentenceDelay
		if i == 0 {
			delay = s.cfg.ResponseDelay
		}
		steps = append(steps, step{delay: delay, reply: gen, chat: gate.ChatText, msg: sentence})
	}
	steps = append(steps, step{delay: s.cfg.SentenceDelay, reply: gen, chat: gate.ChatResponseIsEnded})
	s.enqueue(steps...)
}

// SendTextMessage answers with a short canned reply.
func (s *Simulator) SendTextMessage(text string) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.reply(answer(text))
	return nil
}

// Echo speaks text back verbatim, sentence by sentence.
func (s *Simulator) Echo(text string) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.reply(SplitSentences(text))
	return nil
}

func (s *Simulator) StartStt() error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	s.recording = true
	s.mu.Unlock()
	s.enqueue(step{chat: gate.ChatUserSpeechStarted})
	return nil
}

// EndStt finishes recording, reports the configured transcript and answers it.
// Without an active recording it reports STT_ERROR.
func (s *Simulator) EndStt() error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	wasRecording := s.recording
	s.recording = false
	s.mu.Unlock()

	if !wasRecording {
		s.enqueue(step{chat: gate.ChatSTTError, msg: "no active recording"})
		return nil
	}
	s.enqueue(
		step{chat: gate.ChatUserSpeechStopped},
		step{chat: gate.ChatSTTResult, msg: s.cfg.SttTranscript},
	)
	s.reply(answer(s.cfg.SttTranscript))
	return nil
}

func (s *Simulator) CancelStt() error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	s.recording = false
	s.mu.Unlock()
	s.enqueue(step{chat: gate.ChatUserSpeechStopped})
	return nil
}

// StartAudioEcho starts lip-syncing an audio clip. The clip keeps playing
// until EndAudioEcho or StopSpeech.
func (s *Simulator) StartAudioEcho(audio string) error {
	if err := s.ready(); err != nil {
		return err
	}
	gen := s.beginReply()
	s.enqueue(
		step{reply: gen, chat: gate.ChatPreparingResponse},
		step{delay: s.cfg.ResponseDelay, reply: gen, chat: gate.ChatText, msg: fmt.Sprintf("[audio %d bytes]", len(audio))},
	)
	return nil
}

func (s *Simulator) EndAudioEcho() error {
	return s.StopSpeech()
}

// StopSpeech ends the current reply early. Without one it does nothing.
func (s *Simulator) StopSpeech() error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.replying {
		s.mu.Unlock()
		return nil
	}
	s.nextReplyLocked()
	s.replying = false
	s.mu.Unlock()

	s.enqueue(step{chat: gate.ChatResponseIsEnded})
	return nil
}

// ClearMessageList empties the engine's own chat list. The simulator keeps
// no list and only counts the calls.
func (s *Simulator) ClearMessageList() error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
	return nil
}

// ClearedCount reports how many times ClearMessageList was called.
func (s *Simulator) ClearedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

// ChangeAvatar reloads the video and returns once it is playable again. A
// reply in progress ends with RESPONSE_IS_ENDED before the reload.
func (s *Simulator) ChangeAvatar(ctx context.Context, opt ChangeAvatarOption) error {
	if err := opt.Validate(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	s.avatarID = opt.AvatarID
	s.nextReplyLocked()
	cut := s.replying
	s.replying = false
	s.mu.Unlock()

	// A reply cut short by the reload still has to be closed.
	if cut {
		s.enqueue(step{chat: gate.ChatResponseIsEnded})
	}
	s.enqueue(
		step{delay: s.cfg.StatusDelay, status: gate.PhaseVideoLoad},
		step{delay: s.cfg.StatusDelay, status: gate.PhaseVideoCanPlay},
	)
	return s.Drain(ctx)
}

// AvatarID returns the avatar currently loaded.
func (s *Simulator) AvatarID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avatarID
}

func answer(text string) []string {
	return []string{
		fmt.Sprintf("You said: %s", strings.TrimSpace(text)),
		"What else would you like to talk about?",
	}
}

// SplitSentences breaks text after '.', '!' and '?'. Text without a
// terminator is one sentence.
func SplitSentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		end := r == '.' || r == '!' || r == '?'
		if end && (i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

var _ Engine = (*Simulator)(nil)
