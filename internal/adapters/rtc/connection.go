// Package rtc implements the peer-connection primitive over pion/webrtc.
package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RTPTrack is a local track that can be bound to a peer connection.
type RTPTrack interface {
	core.LocalTrack
	TrackLocal() webrtc.TrackLocal
}

type Connection struct {
	pc        *webrtc.PeerConnection
	initiator bool
	trickle   bool
	events    core.LinkEvents
	logger    zerolog.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	closeOnce sync.Once
}

func (c *Connection) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.events.Connect != nil {
				c.events.Connect()
			}
		case webrtc.PeerConnectionStateFailed:
			c.fireClose(errors.New("peer connection failed"))
		case webrtc.PeerConnectionStateClosed:
			c.fireClose(nil)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || !c.trickle {
			return
		}
		data, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.logger.Error().Err(err).Msg("encode candidate")
			return
		}
		c.emit(domain.KindCandidate, data)
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.events.Stream != nil {
			c.events.Stream(&RemoteTrack{track: track, receiver: receiver})
		}
	})
}

func (c *Connection) emit(kind domain.SignalKind, data []byte) {
	if c.events.Signal != nil {
		c.events.Signal(kind, data)
	}
}

func (c *Connection) fireClose(err error) {
	c.closeOnce.Do(func() {
		if c.events.Close != nil {
			c.events.Close(err)
		}
	})
}

// describe finishes local description setup and emits it. Without trickle
// the description waits for gathering so it carries every candidate.
func (c *Connection) describe(kind domain.SignalKind, sd webrtc.SessionDescription) error {
	var gathered <-chan struct{}
	if !c.trickle {
		gathered = webrtc.GatheringCompletePromise(c.pc)
	}
	if err := c.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("set local %s: %w", kind, err)
	}
	if gathered != nil {
		<-gathered
	}
	data, err := json.Marshal(c.pc.LocalDescription())
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	c.emit(kind, data)
	return nil
}

func (c *Connection) offer() {
	sd, err := c.pc.CreateOffer(nil)
	if err == nil {
		err = c.describe(domain.KindOffer, sd)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("create offer")
		c.fireClose(err)
		_ = c.pc.Close()
	}
}

// FeedSignal applies remote handshake data. An offer is answered in place.
func (c *Connection) FeedSignal(kind domain.SignalKind, data []byte) error {
	switch kind {
	case domain.KindOffer, domain.KindAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(data, &sd); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		if err := c.pc.SetRemoteDescription(sd); err != nil {
			return fmt.Errorf("set remote %s: %w", kind, err)
		}
		if err := c.flushCandidates(); err != nil {
			return err
		}
		if sd.Type != webrtc.SDPTypeOffer {
			return nil
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		return c.describe(domain.KindAnswer, answer)
	case domain.KindCandidate:
		var ci webrtc.ICECandidateInit
		if err := json.Unmarshal(data, &ci); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		c.mu.Lock()
		if !c.remoteSet {
			c.pending = append(c.pending, ci)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		return c.pc.AddICECandidate(ci)
	}
	return fmt.Errorf("unsupported signal kind %q", kind)
}

// flushCandidates adds candidates that arrived before the remote description.
func (c *Connection) flushCandidates() error {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
	}
	return nil
}

func (c *Connection) Close() error {
	err := c.pc.Close()
	if err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
	c.fireClose(nil)
	return err
}

// Pending reports how many candidates wait for the remote description.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func newConnection(pc *webrtc.PeerConnection, initiator, trickle bool, events core.LinkEvents) *Connection {
	return &Connection{
		pc:        pc,
		initiator: initiator,
		trickle:   trickle,
		events:    events,
		logger: log.With().
			Str("module", "webrtc").
			Bool("initiator", initiator).
			Logger(),
	}
}
