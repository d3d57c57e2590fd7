package testutil

import (
	"errors"
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

type Fed struct {
	Kind domain.SignalKind
	Data []byte
}

// Link records what the registry feeds it and lets tests fire its events.
type Link struct {
	Initiator bool
	Media     *core.LocalMediaBundle

	mu      sync.Mutex
	events  core.LinkEvents
	fed     []Fed
	closes  int
	feedErr error
}

func (l *Link) FeedSignal(kind domain.SignalKind, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fed = append(l.fed, Fed{Kind: kind, Data: append([]byte(nil), data...)})
	return l.feedErr
}

// Close counts the release of the underlying resource.
func (l *Link) Close() error {
	l.mu.Lock()
	l.closes++
	first := l.closes == 1
	onClose := l.events.Close
	l.mu.Unlock()
	if first && onClose != nil {
		onClose(nil)
	}
	return nil
}

func (l *Link) Fed() []Fed {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Fed(nil), l.fed...)
}

func (l *Link) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

func (l *Link) FailFeeds(err error) {
	l.mu.Lock()
	l.feedErr = err
	l.mu.Unlock()
}

func (l *Link) cb() core.LinkEvents {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events
}

func (l *Link) EmitSignal(kind domain.SignalKind, data string) {
	if fn := l.cb().Signal; fn != nil {
		fn(kind, []byte(data))
	}
}

func (l *Link) EmitStream(s core.RemoteStream) {
	if fn := l.cb().Stream; fn != nil {
		fn(s)
	}
}

func (l *Link) EmitConnect() {
	if fn := l.cb().Connect; fn != nil {
		fn()
	}
}

// EmitFailure simulates the underlying connection dying during setup.
func (l *Link) EmitFailure(err error) {
	if err == nil {
		err = errors.New("ice failed")
	}
	if fn := l.cb().Close; fn != nil {
		fn(err)
	}
}

// Connector creates fake links and remembers them in creation order.
type Connector struct {
	Err error

	mu    sync.Mutex
	links []*Link
}

func (c *Connector) CreateLink(initiator bool, media *core.LocalMediaBundle, events core.LinkEvents) (core.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	l := &Link{Initiator: initiator, Media: media, events: events}
	c.links = append(c.links, l)
	return l, nil
}

func (c *Connector) Links() []*Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Link(nil), c.links...)
}

func (c *Connector) Last() *Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.links) == 0 {
		return nil
	}
	return c.links[len(c.links)-1]
}
