package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Asarafhack/taskflow-realtime/realtime"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	maxFrameSize        = 64 << 10
)

// SocketConfig tunes the realtime websocket endpoint. An empty
// AllowedOrigins accepts every origin.
type SocketConfig struct {
	PingInterval   time.Duration
	AllowedOrigins []string
}

func (cfg SocketConfig) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(cfg.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range cfg.AllowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// serveSocket authenticates the caller, upgrades the connection and runs
// a realtime session over it until either side goes away.
func serveSocket(reg *realtime.SessionRegistry, auth Authenticator, cfg SocketConfig, logger *log.Logger) echo.HandlerFunc {
	upgrader := cfg.upgrader()
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return func(c echo.Context) error {
		req := c.Request()
		id, err := auth.IdentityFromToken(c.QueryParam("token"))
		if err != nil && req.Header.Get(echo.HeaderAuthorization) != "" {
			id, err = auth.IdentityFromAuthHeader(req.Header.Get(echo.HeaderAuthorization))
		}
		if err != nil {
			return writeError(c, "auth", err)
		}

		sess, err := reg.Open(id)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		}
		conn, err := upgrader.Upgrade(c.Response(), req, nil)
		if err != nil {
			sess.Close()
			logger.WithError(err).Debug("websocket upgrade failed")
			return nil
		}
		entry := logger.WithFields(log.Fields{"conn": sess.ID(), "user": id.ID})
		entry.Info("realtime client connected")

		go writePump(conn, sess, ping, entry)
		readPump(conn, sess, ping, entry)
		sess.Close()
		entry.Info("realtime client disconnected")
		return nil
	}
}

func readPump(conn *websocket.Conn, sess *realtime.Session, ping time.Duration, entry *log.Entry) {
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(2 * ping))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * ping))
	})
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				entry.WithError(err).Debug("realtime read ended")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		sess.Handle(data)
	}
}

// writePump is the only writer of conn.
func writePump(conn *websocket.Conn, sess *realtime.Session, ping time.Duration, entry *log.Entry) {
	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	defer conn.Close()
	for {
		select {
		case <-sess.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				entry.WithError(err).Debug("realtime write failed")
				sess.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}
		}
	}
}
