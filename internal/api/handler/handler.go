// Package handler is the HTTP and websocket surface: anonymous token
// issuance, the per-client websocket session, and a couple of small
// read-only endpoints.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/presence"
	"pairgo/backend/internal/session"
)

// SessionFactory builds a session for one authenticated websocket.
type SessionFactory func(clientID, lang string) *session.Session

// Config wires the handler.
type Config struct {
	Auth       *Auth
	Presence   *presence.Registry
	Sessions   SessionFactory
	ICEServers []string
	Logger     zerolog.Logger
}

// Handler serves the public API.
type Handler struct {
	auth       *Auth
	presence   *presence.Registry
	sessions   SessionFactory
	iceServers []string
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// New creates the handler.
func New(cfg Config) *Handler {
	return &Handler{
		auth:       cfg.Auth,
		presence:   cfg.Presence,
		sessions:   cfg.Sessions,
		iceServers: cfg.ICEServers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Anonymous public endpoint; the token is the gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: cfg.Logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the gin engine with all routes attached.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.health)
	r.POST("/token", h.issueToken)
	r.GET("/stats", h.stats)
	r.GET("/config", h.clientConfig)
	r.GET("/ws", h.serveWS)
	return r
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// issueToken hands out a fresh anonymous identity.
func (h *Handler) issueToken(c *gin.Context) {
	clientID, token, err := h.auth.Issue()
	if err != nil {
		h.log.Error().Err(err).Msg("token issue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"client_id": clientID, "token": token})
}

// stats reports how many clients are online, optionally filtered by
// mode (?mode=video|text).
func (h *Handler) stats(c *gin.Context) {
	mode := models.ChatMode(c.Query("mode"))
	if mode != "" && mode != models.ModeVideo && mode != models.ModeText {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode"})
		return
	}
	count, err := h.presence.Count(mode)
	if err != nil {
		h.log.Error().Err(err).Msg("stats query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not count clients"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": count})
}

// clientConfig exposes what the browser side needs to build its peer
// connection.
func (h *Handler) clientConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ice_servers": h.iceServers})
}
