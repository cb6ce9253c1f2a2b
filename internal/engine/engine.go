// Package engine defines the boundary to the avatar-chat engine and ships two
// implementations: a websocket Bridge to a browser page running the vendor
// SDK, and an in-process Simulator.
package engine

import (
	"context"
	"errors"

	"github.com/normanking/avatarchat/internal/gate"
)

var (
	// ErrNotAttached is returned by the bridge when no engine page is connected.
	ErrNotAttached = errors.New("engine page not attached")
	// ErrNotInitialized is returned for commands issued before Init.
	ErrNotInitialized = errors.New("engine not initialized")
	// ErrInvalidOption wraps every option validation failure.
	ErrInvalidOption = errors.New("invalid engine option")
	// ErrAckTimeout is returned when the engine does not acknowledge a command.
	ErrAckTimeout = errors.New("engine did not acknowledge command")
)

// Command method names as the vendor SDK spells them.
const (
	MethodInit             = "init"
	MethodDestroy          = "destroy"
	MethodSendTextMessage  = "sendTextMessage"
	MethodStartStt         = "startStt"
	MethodEndStt           = "endStt"
	MethodCancelStt        = "cancelStt"
	MethodEcho             = "echo"
	MethodStartAudioEcho   = "startAudioEcho"
	MethodEndAudioEcho     = "endAudioEcho"
	MethodStopSpeech       = "stopSpeech"
	MethodClearMessageList = "clearMessageList"
	MethodChangeAvatar     = "changeAvatar"
)

// Listener receives engine callbacks. Calls are made one at a time.
type Listener interface {
	OnStatus(phase gate.ConnectionPhase)
	OnChat(event gate.ChatEvent)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Status func(gate.ConnectionPhase)
	Chat   func(gate.ChatEvent)
}

func (f ListenerFuncs) OnStatus(phase gate.ConnectionPhase) {
	if f.Status != nil {
		f.Status(phase)
	}
}

func (f ListenerFuncs) OnChat(event gate.ChatEvent) {
	if f.Chat != nil {
		f.Chat(event)
	}
}

// Engine is the command surface of the avatar-chat engine. Init and
// ChangeAvatar complete asynchronously on the engine side and block until it
// acknowledges them; every other command is fire-and-forget.
type Engine interface {
	Init(ctx context.Context, opt InitOption) error
	Destroy() error
	SendTextMessage(text string) error
	StartStt() error
	EndStt() error
	CancelStt() error
	Echo(text string) error
	StartAudioEcho(audio string) error
	EndAudioEcho() error
	StopSpeech() error
	ClearMessageList() error
	ChangeAvatar(ctx context.Context, opt ChangeAvatarOption) error
	// Subscribe registers the callback target, replacing any previous one.
	Subscribe(l Listener)
}
