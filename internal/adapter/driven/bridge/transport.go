// Package bridge implements the transport port over a websocket connection to
// the protocol bridge. The bridge owns the vendor protocol; this adapter owns
// framing, command correlation, and serving the bridge's credential requests
// from the local store.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/emontero/chatworker/internal/codec"
	"github.com/emontero/chatworker/internal/domain/model"
	"github.com/emontero/chatworker/internal/domain/port/driven"
)

const (
	handshakeTimeout = 60 * time.Second
	ackTimeout       = 30 * time.Second
	eventBuffer      = 32
)

// frame is the single wire envelope for both directions. Type selects which
// fields are meaningful.
type frame struct {
	Type       string                                `json:"type"`
	ID         string                                `json:"id,omitempty"`
	Code       string                                `json:"code,omitempty"`
	StatusCode int                                   `json:"status_code,omitempty"`
	Error      string                                `json:"error,omitempty"`
	Phone      string                                `json:"phone,omitempty"`
	To         string                                `json:"to,omitempty"`
	Body       string                                `json:"body,omitempty"`
	Creds      json.RawMessage                       `json:"creds,omitempty"`
	KeyType    string                                `json:"key_type,omitempty"`
	IDs        []string                              `json:"ids,omitempty"`
	Keys       map[string]json.RawMessage            `json:"keys,omitempty"`
	Updates    map[string]map[string]json.RawMessage `json:"updates,omitempty"`
	Messages   []wireMessage                         `json:"messages,omitempty"`
}

// Frame types received from the bridge.
const (
	frameQR       = "qr"
	frameOpen     = "open"
	frameClose    = "close"
	frameCreds    = "creds"
	frameMessages = "messages"
	frameAck      = "ack"
	frameKeysGet  = "keys.get"
	frameKeysSet  = "keys.set"
)

// Frame types sent to the bridge.
const (
	frameInit        = "init"
	frameSend        = "send"
	framePairingCode = "pairing_code"
	frameKeysResult  = "keys.result"
)

type wireMessage struct {
	Sender       string `json:"sender"`
	FromMe       bool   `json:"from_me"`
	Conversation string `json:"conversation,omitempty"`
	ExtendedText string `json:"extended_text,omitempty"`
}

// Dialer opens bridge sessions. One Dialer serves the whole process.
type Dialer struct {
	baseURL string
	dialer  *websocket.Dialer
}

// Compile-time interface satisfaction check.
var _ driven.TransportDialer = (*Dialer)(nil)

// NewDialer creates a Dialer for the bridge at baseURL (ws:// or wss://).
func NewDialer(baseURL string) *Dialer {
	return &Dialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Dial opens a session socket for the instance, sends the init frame with the
// persisted credential blob, and starts the read loop. The returned transport
// serves the bridge's key requests from creds for its whole lifetime.
func (d *Dialer) Dial(ctx context.Context, instanceID string, creds driven.CredentialStore) (driven.Transport, error) {
	sessionURL := d.baseURL + "/session/" + url.PathEscape(instanceID)

	conn, _, err := d.dialer.DialContext(ctx, sessionURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge session: %w", err)
	}

	loaded, err := creds.LoadCredentials(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	init := frame{Type: frameInit}
	if loaded != nil {
		blob, err := codec.Encode(loaded)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("encode credential blob: %w", err)
		}
		init.Creds = blob
	}

	t := &Transport{
		instanceID: instanceID,
		conn:       conn,
		creds:      creds,
		events:     make(chan driven.TransportEvent, eventBuffer),
		done:       make(chan struct{}),
		pending:    make(map[string]chan frame),
		registered: credsRegistered(loaded),
	}

	if err := t.writeFrame(init); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send init frame: %w", err)
	}

	go t.readLoop()
	return t, nil
}

// Transport is one live bridge session socket.
type Transport struct {
	instanceID string
	conn       *websocket.Conn
	creds      driven.CredentialStore

	events     chan driven.TransportEvent
	done       chan struct{}
	closeOnce  sync.Once
	eventsOnce sync.Once

	// writeMu serializes socket writes; the websocket allows one writer.
	writeMu sync.Mutex

	mu         sync.Mutex
	registered bool
	pending    map[string]chan frame
}

// Compile-time interface satisfaction check.
var _ driven.Transport = (*Transport)(nil)

// Events returns the event stream. The channel is closed when the socket dies.
func (t *Transport) Events() <-chan driven.TransportEvent { return t.events }

// Registered reports whether the session holds a completed login.
func (t *Transport) Registered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}

// RequestPairingCode asks the bridge for a phone-pairing code.
func (t *Transport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	ack, err := t.command(ctx, frame{Type: framePairingCode, Phone: phone})
	if err != nil {
		return "", err
	}
	if ack.Error != "" {
		return "", fmt.Errorf("pairing code rejected: %s", ack.Error)
	}
	return ack.Code, nil
}

// SendText sends one text message through the session.
func (t *Transport) SendText(ctx context.Context, to, body string) error {
	ack, err := t.command(ctx, frame{Type: frameSend, To: to, Body: body})
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("send rejected: %s", ack.Error)
	}
	return nil
}

// Close tears the socket down. Safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		deadline := time.Now().Add(time.Second)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = t.conn.Close()
	})
	return nil
}

// command writes a correlated frame and waits for its ack.
func (t *Transport) command(ctx context.Context, f frame) (frame, error) {
	f.ID = uuid.NewString()
	ch := make(chan frame, 1)

	t.mu.Lock()
	t.pending[f.ID] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, f.ID)
		t.mu.Unlock()
	}()

	if err := t.writeFrame(f); err != nil {
		return frame{}, fmt.Errorf("write %s frame: %w", f.Type, err)
	}

	select {
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-t.done:
		return frame{}, fmt.Errorf("session closed")
	case <-time.After(ackTimeout):
		return frame{}, fmt.Errorf("%s command timed out", f.Type)
	case ack := <-ch:
		return ack, nil
	}
}

func (t *Transport) writeFrame(f frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(f)
}

// readLoop consumes bridge frames until the socket dies, translating them into
// port events and serving the bridge's credential requests.
func (t *Transport) readLoop() {
	defer t.eventsOnce.Do(func() { close(t.events) })

	sawClose := false
	for {
		var f frame
		if err := t.conn.ReadJSON(&f); err != nil {
			// A read error without a prior close frame means the socket died
			// unannounced (bridge crash, network drop). Surface it as a close
			// with no status code so the consumer runs its reconnect policy.
			// A locally initiated Close is not a remote death and emits nothing.
			select {
			case <-t.done:
			default:
				if !sawClose {
					slog.Warn("bridge socket died", "instance", t.instanceID, "error", err)
					t.emit(driven.ClosedEvent{StatusCode: 0})
				}
			}
			return
		}

		switch f.Type {
		case frameQR:
			t.emit(driven.QRCodeEvent{Code: f.Code})
		case frameOpen:
			t.emit(driven.ConnectedEvent{})
		case frameClose:
			sawClose = true
			t.emit(driven.ClosedEvent{StatusCode: f.StatusCode})
		case frameCreds:
			t.handleCreds(f)
		case frameMessages:
			t.handleMessages(f)
		case frameAck:
			t.routeAck(f)
		case frameKeysGet:
			go t.serveKeysGet(f)
		case frameKeysSet:
			go t.serveKeysSet(f)
		default:
			slog.Warn("unknown bridge frame", "instance", t.instanceID, "type", f.Type)
		}
	}
}

// emit delivers an event unless the transport is already closed. The done
// guard keeps the read loop from wedging on an abandoned consumer.
func (t *Transport) emit(ev driven.TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *Transport) handleCreds(f frame) {
	value, err := codec.Decode(f.Creds)
	if err != nil {
		slog.Error("credential frame decode failed", "instance", t.instanceID, "error", err)
		return
	}

	t.mu.Lock()
	t.registered = credsRegistered(value)
	t.mu.Unlock()

	t.emit(driven.CredentialsEvent{Creds: value})
}

func (t *Transport) handleMessages(f frame) {
	messages := make([]model.InboundMessage, 0, len(f.Messages))
	for _, m := range f.Messages {
		messages = append(messages, model.InboundMessage{
			SenderID:     m.Sender,
			FromMe:       m.FromMe,
			Conversation: m.Conversation,
			ExtendedText: m.ExtendedText,
		})
	}
	if len(messages) > 0 {
		t.emit(driven.MessagesEvent{Messages: messages})
	}
}

func (t *Transport) routeAck(f frame) {
	t.mu.Lock()
	ch, ok := t.pending[f.ID]
	t.mu.Unlock()
	if ok {
		ch <- f
	}
}

// serveKeysGet answers a bridge key fetch from the local credential store.
// Runs on its own goroutine so store latency never stalls the read loop.
func (t *Transport) serveKeysGet(f frame) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	values, err := t.creds.GetKeys(ctx, f.KeyType, f.IDs)
	if err != nil {
		slog.Error("key fetch failed", "instance", t.instanceID, "key_type", f.KeyType, "error", err)
		values = nil
	}

	keys := make(map[string]json.RawMessage, len(values))
	for id, value := range values {
		raw, err := codec.Encode(value)
		if err != nil {
			slog.Error("key encode failed", "instance", t.instanceID, "key_type", f.KeyType, "id", id, "error", err)
			continue
		}
		keys[id] = raw
	}

	if err := t.writeFrame(frame{Type: frameKeysResult, ID: f.ID, Keys: keys}); err != nil {
		slog.Error("key result write failed", "instance", t.instanceID, "error", err)
	}
}

// serveKeysSet applies a bridge key mutation batch to the local store and acks.
func (t *Transport) serveKeysSet(f frame) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	updates := make(map[string]map[string]any, len(f.Updates))
	var decodeErr error
	for keyType, entries := range f.Updates {
		decoded := make(map[string]any, len(entries))
		for id, raw := range entries {
			// A JSON null is a tombstone and passes through as nil.
			value, err := codec.Decode(raw)
			if err != nil {
				decodeErr = err
				slog.Error("key decode failed", "instance", t.instanceID, "key_type", keyType, "id", id, "error", err)
				continue
			}
			decoded[id] = value
		}
		updates[keyType] = decoded
	}

	err := t.creds.SetKeys(ctx, updates)
	if err == nil {
		err = decodeErr
	}

	ack := frame{Type: frameAck, ID: f.ID}
	if err != nil {
		ack.Error = err.Error()
	}
	if werr := t.writeFrame(ack); werr != nil {
		slog.Error("key ack write failed", "instance", t.instanceID, "error", werr)
	}
}

// credsRegistered extracts the registered flag from a decoded credential blob.
func credsRegistered(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	registered, ok := m["registered"].(bool)
	return ok && registered
}
