// Package signal serves the relay websocket: one read pump and one write
// pump per participant, envelopes handed to the hub orchestrator.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Stage/internal/app/hub"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type SignalWSController struct {
	Orch       *hub.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(orch *hub.Orchestrator, readLimit int64, pingPeriod time.Duration) *SignalWSController {
	return &SignalWSController{Orch: orch, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and joins the participant to ?stage=.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := domain.ParticipantID(c.GetString("client_token"))
	stage := domain.StageName(c.Query("stage"))
	name := c.Query("name")
	if domain.ValidateDisplayName(name) != nil {
		name = "guest"
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("stage", string(stage)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	sess := core.NewMemberSession(domain.Participant{ID: sid, DisplayName: name}, conn)

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Join(sid, stage, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, sess, conn)
}
