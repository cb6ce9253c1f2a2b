package archive

import (
	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/gate"
)

// Recorder writes session lifecycle and chat events from the bus into a Store.
type Recorder struct {
	store  *Store
	logger zerolog.Logger
}

// NewRecorder creates a recorder. Call Attach to start recording.
func NewRecorder(store *Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// Attach subscribes the recorder to the bus.
func (r *Recorder) Attach(b *bus.EventBus) {
	b.SubscribeMultiple([]bus.EventType{
		bus.EventSessionStarted,
		bus.EventSessionEnded,
		bus.EventEngineChat,
	}, r.Handle)
}

// Handle records one event. Storage errors are logged, never returned, so a
// broken archive cannot stall the session.
func (r *Recorder) Handle(e bus.Event) {
	var err error
	switch e.Type {
	case bus.EventSessionStarted:
		err = r.store.StartSession(e.SessionID, e.String("avatarId"), e.Timestamp)
	case bus.EventSessionEnded:
		err = r.store.EndSession(e.SessionID, e.Timestamp)
	case bus.EventEngineChat:
		err = r.store.AppendChat(e.SessionID, gate.ChatEvent{
			ID:       e.String("id"),
			ChatType: gate.ChatType(e.String("chat_type")),
			Message:  e.String("message"),
			Time:     e.String("time"),
		}, e.Timestamp)
	default:
		return
	}
	if err != nil {
		r.logger.Error().Err(err).Str("event", string(e.Type)).Str("session", e.SessionID).Msg("Archive write failed")
	}
}
