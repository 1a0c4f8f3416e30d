package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// TextMessage is the websocket opcode for textual payloads.
	TextMessage = websocket.TextMessage
	// BinaryMessage is the websocket opcode for binary payloads.
	BinaryMessage = websocket.BinaryMessage

	defaultHandshakeTimeout = 10 * time.Second
	controlWriteTimeout     = 5 * time.Second
)

// Conn is a live bidirectional message connection.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens connections to the speech server.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// Dial opens a websocket connection and installs a pong responder.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if url == "" {
		return nil, errors.New("server url is empty")
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	var header http.Header
	if d.Header != nil {
		header = d.Header.Clone()
	}
	raw, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	conn := &wsConn{conn: raw}
	raw.SetPingHandler(func(appData string) error {
		conn.writeMu.Lock()
		defer conn.writeMu.Unlock()
		err := raw.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteTimeout))
		if err != nil {
			logger.Debug("pong write failed", zap.Error(err))
		}
		return err
	})
	return conn, nil
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
