// Package session wires one SessionGate to one engine handle and turns user
// commands into engine commands after consulting the gate.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/engine"
	"github.com/normanking/avatarchat/internal/gate"
)

var (
	ErrNotConnected     = errors.New("session not connected")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrAvatarBusy       = errors.New("avatar is preparing or speaking")
)

// Command names reported in session.command events.
const (
	CmdConnect          = "connect"
	CmdDisconnect       = "disconnect"
	CmdSendText         = "sendText"
	CmdStartStt         = "startStt"
	CmdEndStt           = "endStt"
	CmdCancelStt        = "cancelStt"
	CmdStopSpeech       = "stopSpeech"
	CmdClearMessageList = "clearMessageList"
	CmdEcho             = "echo"
	CmdPlayNextEcho     = "playNextEcho"
	CmdStartAudioEcho   = "startAudioEcho"
	CmdEndAudioEcho     = "endAudioEcho"
	CmdChangeAvatar     = "changeAvatar"
)

// Options configures a Controller.
type Options struct {
	Init             engine.InitOption
	Playlist         []string
	MaxTranscript    int  // 0 = unbounded
	RetainTranscript bool // keep the transcript across disconnects
}

// State is the controller's read-only view: the gate snapshot plus session
// bookkeeping.
type State struct {
	gate.Snapshot
	Connected bool   `json:"connected"`
	SessionID string `json:"sessionId,omitempty"`
	AvatarID  string `json:"avatarId,omitempty"`
}

// Controller is the single owner of a gate. One mutex serialises every gate
// access; engine calls are made with the mutex released so an engine that
// calls back synchronously cannot deadlock.
type Controller struct {
	engine engine.Engine
	bus    *bus.EventBus
	logger zerolog.Logger
	opts   Options

	mu         sync.Mutex
	gate       *gate.Gate
	connected  bool
	connecting bool
	sessionID  string
	avatarID   string
}

// NewController creates a disconnected controller. eventBus may be nil.
func NewController(eng engine.Engine, eventBus *bus.EventBus, logger zerolog.Logger, opts Options) *Controller {
	return &Controller{
		engine:   eng,
		bus:      eventBus,
		logger:   logger.With().Str("component", "session").Logger(),
		opts:     opts,
		gate:     gate.New(gate.WithPlaylist(opts.Playlist)),
		avatarID: opts.Init.AvatarID,
	}
}

func (c *Controller) publish(events ...bus.Event) {
	if c.bus == nil {
		return
	}
	for _, e := range events {
		c.bus.PublishSync(e)
	}
}

func (c *Controller) guidanceEvent(sessionID, text string) bus.Event {
	return bus.NewEvent(bus.EventGuidance, sessionID, map[string]any{"guidance": text})
}

func (c *Controller) commandEvent(sessionID, name string, err error) bus.Event {
	data := map[string]any{"command": name, "result": "ok"}
	if err != nil {
		data["result"] = "error"
		data["error"] = err.Error()
	}
	return bus.NewEvent(bus.EventCommand, sessionID, data)
}

// OnStatus applies an engine status callback.
func (c *Controller) OnStatus(phase gate.ConnectionPhase) {
	c.mu.Lock()
	if c.sessionID == "" {
		c.mu.Unlock()
		c.logger.Debug().Str("phase", string(phase)).Msg("Status outside a session ignored")
		return
	}
	c.gate.OnStatus(phase)
	sid := c.sessionID
	loading := c.gate.Loading()
	c.mu.Unlock()

	if phase.Failed() {
		c.logger.Warn().Str("phase", string(phase)).Msg("Engine reported connection failure")
	} else if !phase.Known() {
		c.logger.Debug().Str("phase", string(phase)).Msg("Unknown connection phase")
	}

	c.publish(bus.NewEvent(bus.EventEngineStatus, sid, map[string]any{
		"phase":   string(phase),
		"loading": loading,
	}))
}

// OnChat applies an engine chat callback.
func (c *Controller) OnChat(event gate.ChatEvent) {
	c.mu.Lock()
	if c.sessionID == "" {
		c.mu.Unlock()
		c.logger.Debug().Str("chatType", string(event.ChatType)).Msg("Chat outside a session ignored")
		return
	}
	before := c.gate.Guidance()
	c.gate.OnChat(event)
	c.gate.TruncateTranscript(c.opts.MaxTranscript)
	sid := c.sessionID
	speaking := c.gate.Speaking()
	after := c.gate.Guidance()
	c.mu.Unlock()

	if event.ChatType.Failure() {
		c.logger.Warn().Str("chatType", string(event.ChatType)).Str("message", event.Message).Msg("Engine reported failure")
	}

	events := []bus.Event{bus.NewEvent(bus.EventEngineChat, sid, map[string]any{
		"id":        event.ID,
		"chat_type": string(event.ChatType),
		"message":   event.Message,
		"time":      event.Time,
		"speaking":  string(speaking),
	})}
	if after != before {
		events = append(events, c.guidanceEvent(sid, after))
	}
	c.publish(events...)
}

// Connect registers the controller with the engine and initialises it.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected || c.connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.sessionID = uuid.NewString()
	sid := c.sessionID
	avatar := c.avatarID
	c.mu.Unlock()

	c.publish(bus.NewEvent(bus.EventSessionStarted, sid, map[string]any{"avatarId": avatar}))

	opt := c.opts.Init
	opt.AvatarID = avatar
	c.engine.Subscribe(c)
	err := c.engine.Init(ctx, opt)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.gate.Reset(c.opts.RetainTranscript)
		c.sessionID = ""
		c.mu.Unlock()

		c.logger.Error().Err(err).Str("session", sid).Msg("Engine init failed")
		c.publish(
			bus.NewEvent(bus.EventSessionEnded, sid, map[string]any{"error": err.Error()}),
			c.commandEvent(sid, CmdConnect, err),
		)
		return fmt.Errorf("connect: %w", err)
	}
	c.connected = true
	c.gate.SetGuidance(gate.GuidanceConnected)
	c.mu.Unlock()

	c.logger.Info().Str("session", sid).Str("avatar", avatar).Msg("Session connected")
	c.publish(c.guidanceEvent(sid, gate.GuidanceConnected), c.commandEvent(sid, CmdConnect, nil))
	return nil
}

// Disconnect destroys the engine session and resets the gate. The gate is
// reset even when the engine reports an error.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.connected = false
	sid := c.sessionID
	c.mu.Unlock()

	err := c.engine.Destroy()
	if err != nil {
		c.logger.Warn().Err(err).Str("session", sid).Msg("Engine destroy failed")
	}

	c.mu.Lock()
	c.gate.Reset(c.opts.RetainTranscript)
	c.gate.SetGuidance(gate.GuidanceDisconnected)
	c.sessionID = ""
	c.mu.Unlock()

	c.logger.Info().Str("session", sid).Msg("Session disconnected")
	c.publish(
		bus.NewEvent(bus.EventSessionEnded, sid, nil),
		c.guidanceEvent(sid, gate.GuidanceDisconnected),
		c.commandEvent(sid, CmdDisconnect, err),
	)
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// checkSendLocked validates a send or echo. c.mu must be held.
func (c *Controller) checkSendLocked(text string) error {
	if !c.connected {
		return ErrNotConnected
	}
	if text == "" {
		return ErrEmptyMessage
	}
	if !c.gate.CanSend() {
		return ErrAvatarBusy
	}
	return nil
}

// forward runs an engine command, sets guidance on success and reports the
// outcome on the bus.
func (c *Controller) forward(name string, call func() error, guidance string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	sid := c.sessionID
	c.mu.Unlock()

	err := call()

	events := []bus.Event{c.commandEvent(sid, name, err)}
	if err == nil && guidance != "" {
		c.mu.Lock()
		c.gate.SetGuidance(guidance)
		c.mu.Unlock()
		events = append(events, c.guidanceEvent(sid, guidance))
	}
	c.publish(events...)

	if err != nil {
		c.logger.Warn().Err(err).Str("command", name).Msg("Engine command failed")
		return fmt.Errorf("%s: %w", name, err)
	}
	c.logger.Debug().Str("command", name).Msg("Engine command sent")
	return nil
}

// SendText forwards a user message. Blank text and sends while the avatar is
// busy are refused.
func (c *Controller) SendText(text string) error {
	return c.send(CmdSendText, text, c.engine.SendTextMessage)
}

// Echo asks the avatar to speak text verbatim, under the same rules as SendText.
func (c *Controller) Echo(text string) error {
	return c.send(CmdEcho, text, c.engine.Echo)
}

func (c *Controller) send(name, text string, call func(string) error) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if err := c.checkSendLocked(text); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	return c.forward(name, func() error { return call(text) }, "")
}

// PlayNextEcho echoes the next playlist entry and returns it.
func (c *Controller) PlayNextEcho() (string, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	if !c.gate.CanSend() {
		c.mu.Unlock()
		return "", ErrAvatarBusy
	}
	text, err := c.gate.NextEcho()
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	if err := c.forward(CmdPlayNextEcho, func() error { return c.engine.Echo(text) }, ""); err != nil {
		return "", err
	}
	return text, nil
}

func (c *Controller) StartStt() error {
	return c.forward(CmdStartStt, c.engine.StartStt, gate.GuidanceSttStarted)
}

func (c *Controller) EndStt() error {
	return c.forward(CmdEndStt, c.engine.EndStt, gate.GuidanceSttEnded)
}

func (c *Controller) CancelStt() error {
	return c.forward(CmdCancelStt, c.engine.CancelStt, gate.GuidanceSttCancelled)
}

// StopSpeech asks the gate for permission to interrupt. A rejection is
// returned as a decision, not an error, and the engine is not called.
//
// The decision reflects the last engine event applied before the check. The
// engine is called after the lock is released, so a PREPARING_RESPONSE that
// arrives in between does not withdraw an approval already given.
func (c *Controller) StopSpeech() (gate.InterruptDecision, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return gate.InterruptDecision{}, ErrNotConnected
	}
	decision := c.gate.RequestInterrupt()
	sid := c.sessionID
	if !decision.Approved {
		c.gate.SetGuidance(gate.GuidanceInterruptRejected)
	}
	c.mu.Unlock()

	if !decision.Approved {
		c.logger.Info().Str("reason", decision.Reason).Msg("Interrupt rejected")
		c.publish(
			bus.NewEvent(bus.EventInterruptRejected, sid, map[string]any{"reason": decision.Reason}),
			c.guidanceEvent(sid, gate.GuidanceInterruptRejected),
		)
		return decision, nil
	}

	return decision, c.forward(CmdStopSpeech, c.engine.StopSpeech, gate.GuidanceInterruptApproved)
}

// ClearMessageList clears the engine's own message list. The local
// transcript is untouched.
func (c *Controller) ClearMessageList() error {
	return c.forward(CmdClearMessageList, c.engine.ClearMessageList, "")
}

func (c *Controller) StartAudioEcho(audio string) error {
	c.mu.Lock()
	err := c.checkSendLocked(strings.TrimSpace(audio))
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.forward(CmdStartAudioEcho, func() error { return c.engine.StartAudioEcho(audio) }, "")
}

func (c *Controller) EndAudioEcho() error {
	return c.forward(CmdEndAudioEcho, c.engine.EndAudioEcho, "")
}

// ChangeAvatar switches the avatar of the live session.
func (c *Controller) ChangeAvatar(ctx context.Context, opt engine.ChangeAvatarOption) error {
	err := c.forward(CmdChangeAvatar, func() error { return c.engine.ChangeAvatar(ctx, opt) }, "")
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.avatarID = opt.AvatarID
	c.mu.Unlock()
	return nil
}

// ClearTranscript empties the local transcript. It works with or without a
// live session.
func (c *Controller) ClearTranscript() {
	c.mu.Lock()
	c.gate.ClearTranscript()
	c.mu.Unlock()
}

// SetPlaylist replaces the echo playlist; the cursor starts over.
func (c *Controller) SetPlaylist(entries []string) {
	c.mu.Lock()
	c.gate.SetPlaylist(entries)
	c.mu.Unlock()
	c.logger.Info().Int("entries", len(entries)).Msg("Echo playlist replaced")
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Snapshot:  c.gate.Snapshot(),
		Connected: c.connected,
		SessionID: c.sessionID,
		AvatarID:  c.avatarID,
	}
}

// Transcript returns a copy of the local transcript.
func (c *Controller) Transcript() []gate.ChatEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gate.Transcript()
}

// SessionID returns the id of the live session, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

var _ engine.Listener = (*Controller)(nil)
