// Package runtime wires the streaming client together: config, logger,
// metrics, audio output, playback, dispatch, the connection manager and the
// optional status server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/voicestream/internal/config"
	"github.com/saker-ai/voicestream/internal/dispatch"
	apphttp "github.com/saker-ai/voicestream/internal/http"
	applogger "github.com/saker-ai/voicestream/internal/logger"
	"github.com/saker-ai/voicestream/internal/playback"
	"github.com/saker-ai/voicestream/internal/session"
	"github.com/saker-ai/voicestream/internal/session/fsm"
	"github.com/saker-ai/voicestream/internal/telemetry"
	"github.com/saker-ai/voicestream/internal/transport"
	"github.com/saker-ai/voicestream/pkg/audio"
	"github.com/saker-ai/voicestream/pkg/audio/opusx"
	"github.com/saker-ai/voicestream/pkg/audioout"
)

const serviceName = "voicestream"

// Option customizes a Client.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	device   audioout.Device
	dialer   transport.Dialer
	onStatus func(fsm.State)
}

// WithLogger replaces the logger built from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDevice replaces the output device built from config.
func WithDevice(device audioout.Device) Option {
	return func(o *options) { o.device = device }
}

// WithDialer replaces the websocket dialer.
func WithDialer(dialer transport.Dialer) Option {
	return func(o *options) { o.dialer = dialer }
}

// WithStatusListener is called from the event loop on each status change.
func WithStatusListener(fn func(fsm.State)) Option {
	return func(o *options) { o.onStatus = fn }
}

// Client represents a streaming voice client.
type Client struct {
	cfg        appconfig.Config
	logger     *zap.Logger
	metrics    *telemetry.Metrics
	engine     *playback.Engine
	dispatcher *dispatch.Dispatcher
	manager    *session.Manager

	server   *http.Server
	listener net.Listener

	shutdownOnce sync.Once
	shutdownErr  error
}

// New loads configuration from configPath (or the default search) and
// builds a client.
func New(configPath string, opts ...Option) (*Client, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load voicestream config: %w", err)
	}
	return NewWithConfig(cfg, opts...)
}

// NewWithConfig builds a client from an already loaded configuration.
func NewWithConfig(cfg appconfig.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid voicestream config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		built, err := applogger.New(cfg.Log)
		if err != nil {
			built, _ = zap.NewProduction()
		}
		logger = built
	}
	logger.Info("voicestream logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
	)

	metrics, err := telemetry.Setup(serviceName, logger)
	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
		metrics = telemetry.Noop()
	}

	decoder, err := audio.NewDecoder(cfg.DecoderConfig())
	if err != nil {
		return nil, err
	}

	device := o.device
	if device == nil {
		device, err = audioout.New(cfg.DeviceConfig(), logger)
		if err != nil {
			return nil, err
		}
	}
	engine, err := playback.NewEngine(playback.Config{Mode: cfg.Playback.Mode}, decoder, device, logger, metrics)
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(engine, logger, metrics)

	sessionID := newSessionID()
	dialer := o.dialer
	if dialer == nil {
		header := http.Header{}
		header.Set("Client-Id", sessionID)
		dialer = transport.WebsocketDialer{Header: header, Logger: logger}
	}

	manager, err := session.New(session.Config{
		ServerURL:      cfg.ServerURL,
		ReconnectDelay: cfg.ReconnectDelay,
		SessionID:      sessionID,
		OnStatus:       o.onStatus,
	}, session.Deps{
		Dialer:     dialer,
		Dispatcher: dispatcher,
		Audio:      engine,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		engine:     engine,
		dispatcher: dispatcher,
		manager:    manager,
	}
	if cfg.Status.Enabled {
		c.server = &http.Server{
			Addr:              cfg.Status.Addr,
			Handler:           apphttp.NewRouter(c, metrics.Handler(), logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	logger.Info("voicestream config loaded",
		zap.String("root_dir", cfg.RootDir),
		zap.String("server_url", cfg.ServerURL),
		zap.String("audio_format", audio.NormalizeFormat(cfg.Audio.Format)),
		zap.String("opus_backend", opusx.Backend()),
		zap.String("playback_mode", engine.Mode()),
		zap.Bool("status_enabled", cfg.Status.Enabled),
	)
	return c, nil
}

// Start connects to the speech server and starts the status server.
func (c *Client) Start(ctx context.Context) error {
	if c.server != nil && c.listener == nil {
		ln, err := net.Listen("tcp", c.server.Addr)
		if err != nil {
			return fmt.Errorf("status server listen: %w", err)
		}
		c.listener = ln
		c.logger.Info("starting status server", zap.String("addr", ln.Addr().String()))
		go func() {
			if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("status server error", zap.Error(err))
			}
		}()
	}
	return c.manager.Start(ctx)
}

// Send submits a speak request with an explicit voice.
func (c *Client) Send(ctx context.Context, text string, voice int) error {
	return c.manager.Send(ctx, text, voice)
}

// Speak submits a speak request with the configured voice.
func (c *Client) Speak(ctx context.Context, text string) error {
	return c.manager.Send(ctx, text, c.cfg.Voice)
}

// Status returns the user-facing connection state.
func (c *Client) Status() fsm.State {
	return c.manager.Status()
}

// Snapshot reports the client state for the status server.
func (c *Client) Snapshot() apphttp.Snapshot {
	return apphttp.Snapshot{
		SessionID:   c.manager.ID(),
		ServerURL:   c.manager.ServerURL(),
		Status:      string(c.manager.Status()),
		Stopped:     c.manager.Stopped(),
		Voice:       c.cfg.Voice,
		Playback:    c.engine.Stats(),
		LastControl: c.dispatcher.LastControl(),
	}
}

// StatusAddr returns the bound status server address, or "" when disabled.
func (c *Client) StatusAddr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Config returns the effective configuration.
func (c *Client) Config() appconfig.Config {
	return c.cfg
}

// Logger returns the client logger.
func (c *Client) Logger() *zap.Logger {
	return c.logger
}

// Done is closed when the connection manager has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.manager.Done()
}

// Shutdown stops the status server, the connection and audio output, and
// flushes metrics. It is idempotent.
func (c *Client) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		var errs []error
		if c.server != nil {
			if err := ignoreServerClosed(c.server.Shutdown(ctx)); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := c.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		_ = c.logger.Sync()
		c.shutdownErr = errors.Join(errs...)
	})
	return c.shutdownErr
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newSessionID() string {
	return uuid.NewString()
}
