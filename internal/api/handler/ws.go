package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxCommandSize = 4096
)

// serveWS authenticates the token, upgrades the connection and runs
// the session until either side goes away.
func (h *Handler) serveWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	clientID, err := h.auth.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	mode := models.ChatMode(c.DefaultQuery("mode", string(models.ModeVideo)))
	if mode != models.ModeVideo && mode != models.ModeText {
		mode = models.ModeVideo
	}

	sess := h.sessions(clientID, c.Query("lang"))
	if err := sess.Register(c.Request.Context(), mode); err != nil {
		h.log.Error().Err(err).Str("client", clientID).Msg("register failed")
		_ = conn.Close()
		return
	}

	ws := &wsClient{
		conn: conn,
		sess: sess,
		log:  h.log.With().Str("client", clientID).Logger(),
	}
	go ws.writePump()
	ws.readPump()
}

// wsClient binds one websocket connection to one session. The read
// pump is the single dispatcher of commands; the write pump is the
// single writer of the connection.
type wsClient struct {
	conn *websocket.Conn
	sess *session.Session
	log  zerolog.Logger
}

// readPump decodes commands until the connection dies, then closes the
// session so presence and any pairing are cleaned up.
func (w *wsClient) readPump() {
	defer func() {
		if err := w.sess.Close(context.Background()); err != nil {
			w.log.Warn().Err(err).Msg("session close")
		}
		_ = w.conn.Close()
	}()

	w.conn.SetReadLimit(maxCommandSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
		w.sess.Heartbeat()
		return nil
	})

	for {
		var cmd models.Command
		if err := w.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Warn().Err(err).Msg("websocket read")
			}
			return
		}
		w.dispatch(cmd)
	}
}

// dispatch routes one command. Start and skip block on the search
// loop, so they run off the read pump; end must stay responsive to
// cancel them.
func (w *wsClient) dispatch(cmd models.Command) {
	ctx := context.Background()
	switch cmd.Action {
	case models.ActionStart:
		mode := cmd.Mode
		if mode == "" {
			mode = models.ModeVideo
		}
		go w.reportErr(w.sess.Start(ctx, mode))
	case models.ActionSkip:
		go w.reportErr(w.sess.Skip(ctx))
	case models.ActionEnd:
		w.reportErr(w.sess.End(ctx))
	case models.ActionSetMode:
		w.reportErr(w.sess.SetMode(ctx, cmd.Mode))
	case models.ActionChat:
		w.reportErr(w.sess.SendChat(ctx, cmd.Text))
	case models.ActionToggleVideo:
		w.sess.ToggleVideo(cmd.Enabled)
	case models.ActionToggleAudio:
		w.sess.ToggleAudio(cmd.Enabled)
	case models.ActionReport:
		w.reportErr(w.sess.Report(ctx, cmd.Reason, cmd.Details))
	default:
		w.log.Warn().Str("action", cmd.Action).Msg("unknown command")
	}
}

// reportErr logs a failed command. User-visible outcomes (media
// denial, exhausted search, disconnects) already reach the client as
// error events and notices from the session itself.
func (w *wsClient) reportErr(err error) {
	if err == nil {
		return
	}
	w.log.Debug().Err(err).Msg("command failed")
}

// writePump streams session events out and keeps the connection alive
// with pings. It owns all writes to the socket.
func (w *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = w.conn.Close()
	}()

	for {
		select {
		case ev := <-w.sess.Events():
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteJSON(ev); err != nil {
				w.log.Debug().Err(err).Msg("websocket write")
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.sess.Done():
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = w.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
