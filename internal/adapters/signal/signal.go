package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/bluestarfish/blueberry/internal/app"
	"github.com/bluestarfish/blueberry/internal/config"
	"github.com/bluestarfish/blueberry/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the WebSocket signaling surface. One connState per
// connection; the registry is shared.
type Controller struct {
	Registry *app.Registry
	Limiter  *JoinRateLimiter
	Cfg      *config.Config
}

func NewController(reg *app.Registry, cfg *config.Config) *Controller {
	return &Controller{
		Registry: reg,
		Limiter:  NewJoinRateLimiter(5, time.Minute),
		Cfg:      cfg,
	}
}

// wsConn is the serialized writer for one participant: every outbound frame
// goes through the buffered send channel and a single write pump, so
// concurrent operations never interleave on the wire.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// connState is the per-connection view: nil session until JOIN_ROOM.
// Only the read pump touches it, so no locking is needed.
type connState struct {
	conn    *wsConn
	token   string
	session *app.Session
	room    *app.Room
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.Cfg != nil && ctl.Cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Cfg.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	st := &connState{conn: conn, token: token}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, st)
}
