package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/voicestream/internal/protocol"
	"github.com/saker-ai/voicestream/internal/session/fsm"
	"github.com/saker-ai/voicestream/internal/telemetry"
	"github.com/saker-ai/voicestream/internal/transport"
	"github.com/saker-ai/voicestream/internal/transport/frame"
)

// Dispatcher receives every inbound message in delivery order.
type Dispatcher interface {
	Dispatch(ctx context.Context, messageType int, data []byte) frame.Kind
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Dialer     transport.Dialer
	Dispatcher Dispatcher
	// Audio is closed on Shutdown, abandoning in-flight playback.
	Audio   io.Closer
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

type eventKind int

const (
	eventOpened eventKind = iota
	eventDialFailed
	eventFrame
	eventClosed
)

type event struct {
	kind        eventKind
	gen         uint64
	conn        transport.Conn
	messageType int
	data        []byte
	err         error
}

type sendRequest struct {
	payload []byte
	reply   chan error
}

// Manager represents the connection manager. A single event loop goroutine
// owns the session; dial and read helpers only post events to it.
type Manager struct {
	cfg        Config
	dialer     transport.Dialer
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *telemetry.Metrics
	session    *Session

	events chan event
	sends  chan sendRequest
	quit   chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	quitOnce sync.Once

	// loop-owned
	retry      *time.Timer
	retryC     <-chan time.Time
	lastStatus fsm.State
}

// New builds a manager. Nothing is dialed until Start.
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	cfg = cfg.normalized()
	if cfg.ServerURL == "" {
		return nil, errors.New("session: server url is empty")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:        cfg,
		dialer:     deps.Dialer,
		dispatcher: deps.Dispatcher,
		logger:     logger.With(zap.String("session_id", cfg.SessionID)),
		metrics:    telemetry.OrNoop(deps.Metrics),
		session:    newSession(cfg.SessionID, deps.Audio),
		events:     make(chan event),
		sends:      make(chan sendRequest),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	m.lastStatus = m.session.machine.Status()
	return m, nil
}

// ID returns the session id.
func (m *Manager) ID() string {
	return m.session.ID
}

// State returns the core connection state.
func (m *Manager) State() fsm.State {
	return m.session.machine.State()
}

// Status returns the user-facing state, which reports reconnecting while a
// retry is pending.
func (m *Manager) Status() fsm.State {
	return m.session.machine.Status()
}

// Stopped reports whether Shutdown has torn the session down.
func (m *Manager) Stopped() bool {
	return m.session.machine.Terminal()
}

// ServerURL returns the configured endpoint.
func (m *Manager) ServerURL() string {
	return m.cfg.ServerURL
}

// Start begins connecting. Further calls are no-ops. Cancelling ctx shuts
// the manager down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrShutdown
	}
	if m.started {
		return nil
	}
	m.started = true
	go m.run(ctx)
	return nil
}

// Send encodes a speak request and writes it if connected. Invalid requests
// fail before any network interaction; nothing is queued when disconnected.
func (m *Manager) Send(ctx context.Context, text string, voice int) error {
	payload, err := protocol.Encode(text, voice)
	if err != nil {
		return err
	}

	m.mu.Lock()
	running := m.started && !m.stopped
	m.mu.Unlock()
	if !running {
		return ErrNotConnected
	}

	req := sendRequest{payload: payload, reply: make(chan error, 1)}
	select {
	case m.sends <- req:
	case <-m.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-m.done:
		return ErrNotConnected
	}
}

// Shutdown stops reconnecting, closes the connection and the audio output
// and leaves the session disconnected. It is idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	m.quitOnce.Do(func() {
		close(m.quit)
		if !started {
			m.teardown()
		}
	})

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the manager has shut down.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer m.teardown()

	m.logger.Info("session starting", zap.String("server_url", m.cfg.ServerURL))
	m.connect(ctx)

	for {
		select {
		case <-m.quit:
			return
		case <-ctx.Done():
			m.logger.Info("session context done", zap.Error(ctx.Err()))
			return
		case <-m.retryC:
			m.retry = nil
			m.retryC = nil
			m.connect(ctx)
		case ev := <-m.events:
			m.handle(ctx, ev)
		case req := <-m.sends:
			req.reply <- m.write(ctx, req.payload)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev event) {
	s := m.session
	if ev.gen != s.gen {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}
	switch ev.kind {
	case eventOpened:
		if err := s.machine.OnOpen(); err != nil {
			_ = ev.conn.Close()
			return
		}
		s.conn = ev.conn
		m.logger.Info("session connected", zap.Uint64("attempt", ev.gen))
		m.notifyStatus()
		go m.readLoop(ctx, ev.gen, ev.conn)
	case eventDialFailed:
		m.metrics.ConnectFailures.Add(ctx, 1)
		m.logger.Warn("session connect failed", zap.Uint64("attempt", ev.gen), zap.Error(ev.err))
		m.onClosed(ctx)
	case eventFrame:
		if m.dispatcher != nil {
			m.dispatcher.Dispatch(ctx, ev.messageType, ev.data)
		}
	case eventClosed:
		m.logger.Warn("session connection lost", zap.Uint64("attempt", ev.gen), zap.Error(ev.err))
		m.onClosed(ctx)
	}
}

// onClosed handles any closure and schedules the next attempt.
func (m *Manager) onClosed(ctx context.Context) {
	s := m.session
	s.closeConn()
	s.machine.OnClose()

	m.retry = time.NewTimer(m.cfg.ReconnectDelay)
	m.retryC = m.retry.C
	s.machine.OnRetryScheduled()
	m.metrics.Reconnects.Add(ctx, 1)
	m.logger.Info("session reconnect scheduled", zap.Duration("delay", m.cfg.ReconnectDelay))
	m.notifyStatus()
}

func (m *Manager) connect(ctx context.Context) {
	s := m.session
	if err := s.machine.OnConnect(); err != nil {
		m.logger.Warn("session connect skipped", zap.Error(err))
		return
	}
	s.gen++
	gen := s.gen
	m.notifyStatus()
	go m.dial(ctx, gen)
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	conn, err := m.dialer.Dial(ctx, m.cfg.ServerURL)
	if err != nil {
		m.post(event{kind: eventDialFailed, gen: gen, err: err})
		return
	}
	if !m.post(event{kind: eventOpened, gen: gen, conn: conn}) {
		_ = conn.Close()
	}
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn transport.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			m.post(event{kind: eventClosed, gen: gen, err: err})
			return
		}
		if !m.post(event{kind: eventFrame, gen: gen, messageType: messageType, data: data}) {
			return
		}
	}
}

// post hands ev to the loop. It reports false once the loop has exited.
func (m *Manager) post(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) write(ctx context.Context, payload []byte) error {
	s := m.session
	if s.machine.State() != fsm.StateConnected || s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.WriteMessage(transport.TextMessage, payload); err != nil {
		m.logger.Warn("session write failed", zap.Error(err))
		// Retire this connection's generation so its reader's close is dropped.
		s.gen++
		m.onClosed(ctx)
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	m.metrics.RequestsSent.Add(ctx, 1)
	m.logger.Debug("speak request sent", zap.Int("bytes", len(payload)))
	return nil
}

func (m *Manager) notifyStatus() {
	status := m.session.machine.Status()
	if status == m.lastStatus {
		return
	}
	m.lastStatus = status
	if m.cfg.OnStatus != nil {
		m.cfg.OnStatus(status)
	}
}

// teardown runs once, from the loop or from Shutdown when never started.
func (m *Manager) teardown() {
	s := m.session
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
		m.retryC = nil
	}
	s.closeConn()
	s.gen++
	s.machine.OnShutdown()
	if s.audio != nil {
		if err := s.audio.Close(); err != nil {
			m.logger.Warn("audio close failed", zap.Error(err))
		}
	}
	m.notifyStatus()
	m.logger.Info("session shut down")
	close(m.done)
}
