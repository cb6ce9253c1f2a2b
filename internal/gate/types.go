// Package gate mirrors the avatar engine's status and chat events into a small
// derived state and decides whether the user may act right now.
package gate

// ConnectionPhase is the engine-reported lifecycle stage of an avatar session.
// Values are received verbatim from the engine; unknown values are kept as-is.
type ConnectionPhase string

const (
	PhaseIdle               ConnectionPhase = "IDLE"
	PhaseConnecting         ConnectionPhase = "CONNECTING"
	PhaseConnectingFailed   ConnectionPhase = "CONNECTING_FAILED"
	PhaseSocketConnected    ConnectionPhase = "SOCKET_CONNECTED"
	PhaseSocketFailed       ConnectionPhase = "SOCKET_FAILED"
	PhaseStreamingConnected ConnectionPhase = "STREAMING_CONNECTED"
	PhaseStreamingFailed    ConnectionPhase = "STREAMING_FAILED"
	PhaseConnectedFinish    ConnectionPhase = "CONNECTED_FINISH"
	PhaseVideoLoad          ConnectionPhase = "VIDEO_LOAD"
	PhaseVideoCanPlay       ConnectionPhase = "VIDEO_CAN_PLAY"
)

// ConnectionLadder is the order in which a healthy connection reports phases.
var ConnectionLadder = []ConnectionPhase{
	PhaseIdle,
	PhaseConnecting,
	PhaseSocketConnected,
	PhaseStreamingConnected,
	PhaseConnectedFinish,
	PhaseVideoLoad,
	PhaseVideoCanPlay,
}

var knownPhases = map[ConnectionPhase]bool{
	PhaseIdle:               true,
	PhaseConnecting:         true,
	PhaseConnectingFailed:   true,
	PhaseSocketConnected:    true,
	PhaseSocketFailed:       true,
	PhaseStreamingConnected: true,
	PhaseStreamingFailed:    true,
	PhaseConnectedFinish:    true,
	PhaseVideoLoad:          true,
	PhaseVideoCanPlay:       true,
}

// Known reports whether p belongs to the phase set the engine documents.
func (p ConnectionPhase) Known() bool {
	return knownPhases[p]
}

// Failed reports whether p is one of the terminal failure phases.
func (p ConnectionPhase) Failed() bool {
	switch p {
	case PhaseConnectingFailed, PhaseSocketFailed, PhaseStreamingFailed:
		return true
	default:
		return false
	}
}

// ChatType classifies a chat event delivered by the engine.
type ChatType string

const (
	ChatText                  ChatType = "TEXT"
	ChatSTTResult             ChatType = "STT_RESULT"
	ChatSTTError              ChatType = "STT_ERROR"
	ChatPreparingResponse     ChatType = "PREPARING_RESPONSE"
	ChatResponseIsEnded       ChatType = "RESPONSE_IS_ENDED"
	ChatResponseOK            ChatType = "RESPONSE_OK"
	ChatError                 ChatType = "ERROR"
	ChatTextError             ChatType = "TEXT_ERROR"
	ChatTextModeration        ChatType = "TEXT_MODERATION"
	ChatWait                  ChatType = "WAIT"
	ChatWarnSuspended         ChatType = "WARN_SUSPENDED"
	ChatDisabledTimeOut       ChatType = "DISABLED_TIME_OUT"
	ChatWorkerDisconnected    ChatType = "WORKER_DISCONNECTED"
	ChatExceedConcurrentQuota ChatType = "EXCEED_CONCURRENT_QUOTA"
	ChatStartLongWait         ChatType = "START_LONG_WAIT"
	ChatUserSpeechStarted     ChatType = "USER_SPEECH_STARTED"
	ChatUserSpeechStopped     ChatType = "USER_SPEECH_STOPPED"
)

var knownChatTypes = map[ChatType]bool{
	ChatText:                  true,
	ChatSTTResult:             true,
	ChatSTTError:              true,
	ChatPreparingResponse:     true,
	ChatResponseIsEnded:       true,
	ChatResponseOK:            true,
	ChatError:                 true,
	ChatTextError:             true,
	ChatTextModeration:        true,
	ChatWait:                  true,
	ChatWarnSuspended:         true,
	ChatDisabledTimeOut:       true,
	ChatWorkerDisconnected:    true,
	ChatExceedConcurrentQuota: true,
	ChatStartLongWait:         true,
	ChatUserSpeechStarted:     true,
	ChatUserSpeechStopped:     true,
}

// Known reports whether t belongs to the chat type set the engine documents.
func (t ChatType) Known() bool {
	return knownChatTypes[t]
}

// Failure reports whether t is an engine-reported failure. Failures are
// recorded like any other event; they never become Go errors.
func (t ChatType) Failure() bool {
	switch t {
	case ChatSTTError, ChatError, ChatTextError, ChatTextModeration,
		ChatWarnSuspended, ChatDisabledTimeOut, ChatWorkerDisconnected,
		ChatExceedConcurrentQuota:
		return true
	default:
		return false
	}
}

// ChatEvent is one immutable chat record received from the engine.
type ChatEvent struct {
	ID       string   `json:"id"`
	ChatType ChatType `json:"chat_type"`
	Message  string   `json:"message"`
	Time     string   `json:"time"`
}

// SpeakingPhase is derived locally from chat events.
type SpeakingPhase string

const (
	SpeakingIdle      SpeakingPhase = "IDLE"
	SpeakingPreparing SpeakingPhase = "PREPARING"
	SpeakingSpeaking  SpeakingPhase = "SPEAKING"
)

// ReasonPreparing is the rejection reason while a response is being prepared.
const ReasonPreparing = "preparing"

// InterruptDecision is the outcome of RequestInterrupt. A rejection is a
// normal result, not an error.
type InterruptDecision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Approved returns an approving decision.
func Approved() InterruptDecision {
	return InterruptDecision{Approved: true}
}

// Rejected returns a denying decision with the given reason.
func Rejected(reason string) InterruptDecision {
	return InterruptDecision{Reason: reason}
}
