package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session is a single authenticated WebSocket connection to one Home
// Assistant endpoint. Outgoing frames are serialized via a mutex; C2 and C3
// share a Session handle but never touch the underlying conn directly.
//
// Any I/O error from a live Session is fatal to that session: callers must
// discard it and Acquire again.
type Session struct {
	Endpoint string

	conn   *websocket.Conn
	nextID int64

	writeMu sync.Mutex

	readIdleTimeout time.Duration
	lastPong        atomic.Int64 // unix nanos
}

func newSession(endpoint string, conn *websocket.Conn, readIdleTimeout time.Duration) *Session {
	s := &Session{
		Endpoint:        endpoint,
		conn:            conn,
		readIdleTimeout: readIdleTimeout,
	}
	s.lastPong.Store(time.Now().UnixNano())
	return s
}

// NextRequestID returns a monotonically increasing request id for this
// session, used to match registry-list responses and subscriptions.
func (s *Session) NextRequestID() int64 {
	return atomic.AddInt64(&s.nextID, 1)
}

// Send writes a frame to the wire. Safe for concurrent use.
func (s *Session) Send(frame *Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	return s.conn.WriteJSON(frame)
}

// Next blocks for the next inbound frame. It is only ever called from the
// single frame-dispatch task owning this session (C3); the reader never
// performs CPU work beyond decode, per the no-CPU-in-reader rule.
func (s *Session) Next() (*Frame, error) {
	deadline := s.readIdleTimeout
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	var raw json.RawMessage
	if err := s.conn.ReadJSON(&raw); err != nil {
		return nil, err
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if frame.Type == TypePong {
		s.lastPong.Store(time.Now().UnixNano())
	}
	return &frame, nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Ping sends a liveness ping with the given request id.
func (s *Session) Ping(id int64) error {
	return s.Send(&Frame{ID: id, Type: TypePing})
}

// LastPong reports when the last pong (or the session's creation time) was
// observed by Next.
func (s *Session) LastPong() time.Time {
	return time.Unix(0, s.lastPong.Load())
}

// dialAndAuthenticate opens the WebSocket and performs the auth handshake.
// Ported from the raw frame-level protocol: wait for auth_required, send
// the access token, then wait for auth_ok (auth_invalid is a permanent,
// non-retriable failure for this endpoint).
func dialAndAuthenticate(ctx context.Context, url, token string, connectTimeout time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	var hello Frame
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("reading auth_required: %w", err)
	}
	if hello.Type != TypeAuthRequired {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame type %q, want %q", hello.Type, TypeAuthRequired)
	}

	if err := conn.WriteJSON(&Frame{Type: TypeAuth, AccessToken: token}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sending auth frame: %w", err)
	}

	var authResp Frame
	if err := conn.ReadJSON(&authResp); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("reading auth response: %w", err)
	}
	switch authResp.Type {
	case TypeAuthOK:
		return conn, nil
	case TypeAuthInvalid:
		_ = conn.Close()
		return nil, errAuthFailed
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected auth response type %q", authResp.Type)
	}
}
