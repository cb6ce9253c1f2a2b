package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/gate"
)

// Frame types exchanged with the engine page.
const (
	FrameCommand = "command"
	FrameStatus  = "status"
	FrameChat    = "chat"
	FrameAck     = "ack"
)

// Frame is one JSON message on the bridge socket.
type Frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params any             `json:"params,omitempty"`
	Status string          `json:"status,omitempty"`
	Chat   *gate.ChatEvent `json:"chat,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const writeWait = 10 * time.Second

// Bridge drives a browser page that loads the vendor SDK. The page dials the
// bridge over websocket, executes command frames and reports status, chat
// and acknowledgements back. One page is attached at a time.
type Bridge struct {
	upgrader   websocket.Upgrader
	ackTimeout time.Duration
	logger     zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	listener Listener
	pending  map[string]chan error

	writeMu sync.Mutex

	attachedCh chan struct{}
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithAckTimeout bounds how long Init and ChangeAvatar wait for the page.
func WithAckTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.ackTimeout = d
		}
	}
}

// WithCheckOrigin sets the origin policy for the upgrade.
func WithCheckOrigin(fn func(r *http.Request) bool) BridgeOption {
	return func(b *Bridge) {
		b.upgrader.CheckOrigin = fn
	}
}

// NewBridge creates a bridge with no page attached.
func NewBridge(logger zerolog.Logger, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		ackTimeout: 15 * time.Second,
		logger:     logger.With().Str("component", "engine-bridge").Logger(),
		pending:    make(map[string]chan error),
		attachedCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeHTTP attaches the calling page. A second page is refused while one is
// attached.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.Attached() {
		http.Error(w, "engine page already attached", http.StatusConflict)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Bridge upgrade failed")
		return
	}

	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.conn = conn
	close(b.attachedCh)
	b.mu.Unlock()

	b.logger.Info().Str("remote", r.RemoteAddr).Msg("Engine page attached")
	b.readLoop(conn)
}

// Attached reports whether an engine page is connected.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// WaitAttached blocks until a page is attached or ctx is done.
func (b *Bridge) WaitAttached(ctx context.Context) error {
	b.mu.Lock()
	ch := b.attachedCh
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close detaches the current page, if any.
func (b *Bridge) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	defer b.detach(conn)

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug().Err(err).Msg("Bridge read ended")
			}
			return
		}
		b.handleFrame(f)
	}
}

func (b *Bridge) handleFrame(f Frame) {
	switch f.Type {
	case FrameStatus:
		if l := b.currentListener(); l != nil {
			l.OnStatus(gate.ConnectionPhase(f.Status))
		}
	case FrameChat:
		if f.Chat == nil {
			b.logger.Warn().Msg("Chat frame without payload")
			return
		}
		if l := b.currentListener(); l != nil {
			l.OnChat(*f.Chat)
		}
	case FrameAck:
		b.mu.Lock()
		ch, ok := b.pending[f.ID]
		delete(b.pending, f.ID)
		b.mu.Unlock()
		if !ok {
			b.logger.Debug().Str("id", f.ID).Msg("Ack for unknown command")
			return
		}
		if f.Error != "" {
			ch <- errors.New(f.Error)
		} else {
			ch <- nil
		}
	default:
		b.logger.Debug().Str("type", f.Type).Msg("Unknown frame type")
	}
}

// detach drops the page and fails every command still waiting for an ack.
func (b *Bridge) detach(conn *websocket.Conn) {
	conn.Close()

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
		b.attachedCh = make(chan struct{})
	}
	pending := b.pending
	b.pending = make(map[string]chan error)
	b.mu.Unlock()

	for _, ch := range pending {
		ch <- ErrNotAttached
	}
	b.logger.Info().Msg("Engine page detached")
}

func (b *Bridge) currentListener() Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listener
}

// Subscribe registers the callback target, replacing any previous one.
func (b *Bridge) Subscribe(l Listener) {
	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()
}

func (b *Bridge) write(f Frame) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotAttached
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s: %w", f.Method, err)
	}
	return nil
}

// send issues a fire-and-forget command.
func (b *Bridge) send(method string, params any) error {
	return b.write(Frame{Type: FrameCommand, ID: uuid.NewString(), Method: method, Params: params})
}

// call issues a command and waits for its ack.
func (b *Bridge) call(ctx context.Context, method string, params any) error {
	id := uuid.NewString()
	ch := make(chan error, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}

	if err := b.write(Frame{Type: FrameCommand, ID: id, Method: method, Params: params}); err != nil {
		cleanup()
		return err
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		return nil
	case <-timer.C:
		cleanup()
		return fmt.Errorf("%s: %w", method, ErrAckTimeout)
	case <-ctx.Done():
		cleanup()
		return ctx.Err()
	}
}

type messageParams struct {
	Message string `json:"message"`
}

type audioParams struct {
	Audio string `json:"audio"`
}

func (b *Bridge) Init(ctx context.Context, opt InitOption) error {
	if err := opt.Validate(); err != nil {
		return err
	}
	return b.call(ctx, MethodInit, opt)
}

func (b *Bridge) ChangeAvatar(ctx context.Context, opt ChangeAvatarOption) error {
	if err := opt.Validate(); err != nil {
		return err
	}
	return b.call(ctx, MethodChangeAvatar, opt)
}

func (b *Bridge) Destroy() error { return b.send(MethodDestroy, nil) }

func (b *Bridge) SendTextMessage(text string) error {
	return b.send(MethodSendTextMessage, messageParams{Message: text})
}

func (b *Bridge) StartStt() error  { return b.send(MethodStartStt, nil) }
func (b *Bridge) EndStt() error    { return b.send(MethodEndStt, nil) }
func (b *Bridge) CancelStt() error { return b.send(MethodCancelStt, nil) }

func (b *Bridge) Echo(text string) error {
	return b.send(MethodEcho, messageParams{Message: text})
}

func (b *Bridge) StartAudioEcho(audio string) error {
	return b.send(MethodStartAudioEcho, audioParams{Audio: audio})
}

func (b *Bridge) EndAudioEcho() error     { return b.send(MethodEndAudioEcho, nil) }
func (b *Bridge) StopSpeech() error       { return b.send(MethodStopSpeech, nil) }
func (b *Bridge) ClearMessageList() error { return b.send(MethodClearMessageList, nil) }

// DecodeParams re-decodes the params of a received command frame into out.
// Pages written in Go, such as test harnesses, use it.
func DecodeParams(f Frame, out any) error {
	raw, err := json.Marshal(f.Params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

var _ Engine = (*Bridge)(nil)
