// Package wsclient is the participant side of the signaling relay over a websocket.
package wsclient

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	URL         string
	Stage       domain.StageName
	DisplayName string
	PingPeriod  time.Duration
	// Buffer sizes the outbound queue and the inbound delivery channel.
	Buffer int
}

// Client delivers envelopes to the relay in send order and hands inbound
// envelopes to a single consumer in arrival order.
type Client struct {
	conn   *websocket.Conn
	self   domain.ParticipantID
	stage  domain.StageName
	send   chan core.Frame
	in     chan protocol.Envelope
	done   chan struct{}
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ core.Transport = (*Client)(nil)

// Dial connects and waits for the relay's welcome, which carries our id.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	if opts.Stage != "" {
		q.Set("stage", string(opts.Stage))
	}
	if opts.DisplayName != "" {
		q.Set("name", opts.DisplayName)
	}
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	welcome, err := readWelcome(ctx, ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	c := &Client{
		conn:  ws,
		self:  welcome.ID,
		stage: welcome.Stage,
		send:  make(chan core.Frame, opts.Buffer),
		in:    make(chan protocol.Envelope, opts.Buffer),
		done:  make(chan struct{}),
		logger: log.With().
			Str("module", "wsclient").
			Str("self", string(welcome.ID)).
			Str("stage", string(welcome.Stage)).
			Logger(),
	}
	c.logger.Info().Msg("connected to relay")

	go c.writePump(opts.PingPeriod)
	go c.readPump()
	return c, nil
}

func readWelcome(ctx context.Context, ws *websocket.Conn) (protocol.Welcome, error) {
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return protocol.Welcome{}, fmt.Errorf("read welcome: %w", err)
	}
	env, err := protocol.Unmarshal(data)
	if err != nil {
		return protocol.Welcome{}, err
	}
	if env.Type == protocol.TypeError {
		var e protocol.Error
		_ = env.Decode(&e)
		return protocol.Welcome{}, fmt.Errorf("relay refused: %s", e.Error)
	}
	if env.Type != protocol.TypeWelcome {
		return protocol.Welcome{}, fmt.Errorf("%w: expected welcome, got %s", protocol.ErrMalformedEnvelope, env.Type)
	}
	var w protocol.Welcome
	if err := env.Decode(&w); err != nil {
		return protocol.Welcome{}, err
	}
	return w, nil
}

func (c *Client) Self() domain.ParticipantID { return c.self }
func (c *Client) Stage() domain.StageName   { return c.stage }

// Inbound is closed when the connection ends.
func (c *Client) Inbound() <-chan protocol.Envelope { return c.in }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send stamps the sender and queues the envelope without blocking.
func (c *Client) Send(env protocol.Envelope) error {
	data, err := protocol.Marshal(env.WithFrom(c.self))
	if err != nil {
		return err
	}
	return c.TrySend(data)
}

func (c *Client) TrySend(f core.Frame) error {
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

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

func (c *Client) writePump(pingPeriod time.Duration) {
	var tick <-chan time.Time
	if pingPeriod > 0 {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		tick = t.C
	}
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.write(data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-tick:
			ping, _ := protocol.Marshal(protocol.Envelope{Type: protocol.TypePing, From: c.self})
			if err := c.write(ping); err != nil {
				c.logger.Error().Err(err).Msg("writePump ping error")
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readPump() {
	defer func() {
		close(c.in)
		close(c.done)
		c.Close()
		c.logger.Info().Msg("readPump closing")
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		env, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad envelope")
			continue
		}
		if env.Type == protocol.TypePong {
			continue
		}
		c.in <- env
	}
}
