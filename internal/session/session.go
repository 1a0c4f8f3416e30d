// Package session owns the connection to the speech server: it dials,
// detects failure, reconnects on a fixed delay and serializes writes.
package session

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saker-ai/voicestream/internal/session/fsm"
	"github.com/saker-ai/voicestream/internal/transport"
)

// DefaultReconnectDelay is the fixed wait between a closure and the next attempt.
const DefaultReconnectDelay = 2 * time.Second

var (
	// ErrNotConnected is returned by Send when no connection is open.
	ErrNotConnected = errors.New("not connected")
	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("session shut down")
)

// Config represents the connection manager configuration.
type Config struct {
	ServerURL      string
	ReconnectDelay time.Duration
	// SessionID correlates logs and is sent as Client-Id. Generated when empty.
	SessionID string
	// OnStatus, when set, is called from the event loop on every status
	// change. It must not block.
	OnStatus func(fsm.State)
}

func (c Config) normalized() Config {
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if strings.TrimSpace(c.SessionID) == "" {
		c.SessionID = uuid.NewString()
	}
	return c
}

// Session is the per-client aggregate: the state machine, at most one live
// connection and the audio output. Only the manager's event loop mutates it.
type Session struct {
	ID      string
	machine *fsm.Machine
	conn    transport.Conn
	gen     uint64
	audio   io.Closer
}

func newSession(id string, audio io.Closer) *Session {
	return &Session{ID: id, machine: fsm.New(), audio: audio}
}

// closeConn drops the live connection, if any.
func (s *Session) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
