package gate

// Snapshot is a read-only view of the gate.
type Snapshot struct {
	Phase          ConnectionPhase `json:"phase"`
	Loading        bool            `json:"loading"`
	Speaking       SpeakingPhase   `json:"speaking"`
	LastChatType   ChatType        `json:"lastChatType,omitempty"`
	Guidance       string          `json:"guidance"`
	Placeholder    string          `json:"placeholder"`
	CanSend        bool            `json:"canSend"`
	TranscriptSize int             `json:"transcriptSize"`
	PlaylistCursor int             `json:"playlistCursor"`
	PlaylistSize   int             `json:"playlistSize"`
}

// Gate is the session gate. It records engine status and chat events, derives
// the speaking phase and answers turn-taking questions.
//
// A Gate does no locking. Events must be delivered one at a time and every
// mutating call must be serialised by the owner.
type Gate struct {
	phase        ConnectionPhase
	loading      bool
	speaking     SpeakingPhase
	lastChatType ChatType
	guidance     string
	transcript   []ChatEvent
	playlist     *Playlist
}

// Option configures a Gate at construction.
type Option func(*Gate)

// WithPlaylist configures an echo playlist.
func WithPlaylist(entries []string) Option {
	return func(g *Gate) {
		g.playlist = NewPlaylist(entries)
	}
}

// WithGuidance sets the initial advisory text.
func WithGuidance(text string) Option {
	return func(g *Gate) {
		g.guidance = text
	}
}

// New creates a gate in the IDLE phase with an empty transcript.
func New(opts ...Option) *Gate {
	g := &Gate{
		phase:    PhaseIdle,
		speaking: SpeakingIdle,
		guidance: GuidanceStart,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnStatus records the engine-reported phase. Any value is accepted.
func (g *Gate) OnStatus(phase ConnectionPhase) {
	g.phase = phase
	g.loading = phase != PhaseVideoCanPlay
}

// OnChat appends event to the transcript, advances the speaking phase and
// refreshes the guidance text.
func (g *Gate) OnChat(event ChatEvent) {
	g.transcript = append(g.transcript, event)
	g.lastChatType = event.ChatType

	switch event.ChatType {
	case ChatPreparingResponse:
		g.speaking = SpeakingPreparing
	case ChatText:
		if g.speaking == SpeakingPreparing {
			g.speaking = SpeakingSpeaking
		}
	case ChatResponseIsEnded:
		g.speaking = SpeakingIdle
	}

	if text, ok := chatGuidance(event.ChatType); ok {
		g.guidance = text
	}
}

// Phase returns the latest engine-reported phase.
func (g *Gate) Phase() ConnectionPhase {
	return g.phase
}

// Loading reports whether the avatar video is not yet playable. It is false
// until the first status arrives.
func (g *Gate) Loading() bool {
	return g.loading
}

// Speaking returns the derived speaking phase.
func (g *Gate) Speaking() SpeakingPhase {
	return g.speaking
}

// LastChatType returns the type of the most recent chat event.
func (g *Gate) LastChatType() ChatType {
	return g.lastChatType
}

// Guidance returns the current advisory text.
func (g *Gate) Guidance() string {
	return g.guidance
}

// SetGuidance replaces the advisory text.
func (g *Gate) SetGuidance(text string) {
	g.guidance = text
}

// CanSend reports whether the user may send text or echo now.
func (g *Gate) CanSend() bool {
	return g.speaking == SpeakingIdle
}

// Placeholder returns the input hint matching CanSend.
func (g *Gate) Placeholder() string {
	if g.CanSend() {
		return PlaceholderReady
	}
	return PlaceholderBusy
}

// RequestInterrupt decides whether speech may be stopped. The gate never
// talks to the engine; an approved caller forwards the stop itself.
func (g *Gate) RequestInterrupt() InterruptDecision {
	if g.speaking == SpeakingPreparing {
		return Rejected(ReasonPreparing)
	}
	return Approved()
}

// Transcript returns a copy of the recorded chat events in arrival order.
func (g *Gate) Transcript() []ChatEvent {
	out := make([]ChatEvent, len(g.transcript))
	copy(out, g.transcript)
	return out
}

// TranscriptLen returns the number of recorded chat events.
func (g *Gate) TranscriptLen() int {
	return len(g.transcript)
}

// ClearTranscript empties the local transcript. The engine's own message list
// is not affected.
func (g *Gate) ClearTranscript() {
	g.transcript = nil
}

// TruncateTranscript keeps only the newest keep events. keep <= 0 is a no-op.
func (g *Gate) TruncateTranscript(keep int) {
	if keep <= 0 || len(g.transcript) <= keep {
		return
	}
	trimmed := make([]ChatEvent, keep)
	copy(trimmed, g.transcript[len(g.transcript)-keep:])
	g.transcript = trimmed
}

// NextEcho returns the next playlist entry. A gate without a playlist behaves
// like an empty one.
func (g *Gate) NextEcho() (string, error) {
	return g.playlist.Next()
}

// SetPlaylist replaces the echo playlist; the cursor starts over.
func (g *Gate) SetPlaylist(entries []string) {
	g.playlist = NewPlaylist(entries)
}

// Playlist exposes the configured playlist, or nil.
func (g *Gate) Playlist() *Playlist {
	return g.playlist
}

// Reset tears the session state down after a disconnect. The playlist cursor
// and guidance text are left alone.
func (g *Gate) Reset(retainTranscript bool) {
	g.phase = PhaseIdle
	g.loading = false
	g.speaking = SpeakingIdle
	g.lastChatType = ""
	if !retainTranscript {
		g.transcript = nil
	}
}

// Snapshot returns the current read-only view.
func (g *Gate) Snapshot() Snapshot {
	return Snapshot{
		Phase:          g.phase,
		Loading:        g.loading,
		Speaking:       g.speaking,
		LastChatType:   g.lastChatType,
		Guidance:       g.guidance,
		Placeholder:    g.Placeholder(),
		CanSend:        g.CanSend(),
		TranscriptSize: len(g.transcript),
		PlaylistCursor: g.playlist.Cursor(),
		PlaylistSize:   g.playlist.Len(),
	}
}
