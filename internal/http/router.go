package http

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/saker-ai/voicestream/internal/playback"
	"github.com/saker-ai/voicestream/internal/protocol"
	"github.com/saker-ai/voicestream/internal/session"
	"github.com/saker-ai/voicestream/webassets"
)

// Snapshot represents the client state shown on the status page.
type Snapshot struct {
	SessionID   string         `json:"session_id"`
	ServerURL   string         `json:"server_url"`
	Status      string         `json:"status"`
	Stopped     bool           `json:"stopped"`
	Voice       int            `json:"voice"`
	Playback    playback.Stats `json:"playback"`
	LastControl string         `json:"last_control,omitempty"`
}

// Backend is the client the status server reports on and speaks through.
type Backend interface {
	Send(ctx context.Context, text string, voice int) error
	Snapshot() Snapshot
}

type speakBody struct {
	Text  string `json:"text"`
	Voice *int   `json:"voice"`
}

// NewRouter builds the local status server. metrics may be nil.
func NewRouter(backend Backend, metrics http.Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, backend.Snapshot())
	})

	router.POST("/speak", func(c *gin.Context) {
		var body speakBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		voice := backend.Snapshot().Voice
		if body.Voice != nil {
			voice = *body.Voice
		}
		err := backend.Send(c.Request.Context(), strings.TrimSpace(body.Text), voice)
		switch {
		case err == nil:
			c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
		case errors.Is(err, protocol.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrNotConnected):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	mountStatusPage(router, logger)
	return router
}

func mountStatusPage(router *gin.Engine, logger *zap.Logger) {
	embeddedRoot, err := webassets.Subdir("status")
	if err != nil {
		if logger != nil {
			logger.Warn("failed to load embedded status page", zap.Error(err))
		}
		return
	}
	indexHTML, err := fs.ReadFile(embeddedRoot, "index.html")
	if err != nil {
		if logger != nil {
			logger.Warn("missing embedded index.html", zap.Error(err))
		}
		return
	}
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
		)
	}
}
