// Package media turns captured devices into local tracks that many peer
// connections can share.
package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

// PacketSource yields encoded RTP packets. mediadevices.RTPReadCloser satisfies it.
type PacketSource interface {
	Read() ([]*rtp.Packet, func(), error)
	Close() error
}

type packetSink interface {
	WriteRTP(*rtp.Packet) error
}

// PumpTrack copies packets from one capture source into a static RTP track.
// The static track fans out to every peer connection it is bound to, so a
// mute here applies to all of them at once.
type PumpTrack struct {
	id     string
	kind   domain.MediaKind
	local  *webrtc.TrackLocalStaticRTP
	sink   packetSink
	src    PacketSource
	logger zerolog.Logger

	state   atomic.Int32
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	onStop  func()
	written atomic.Uint64
}

// NewPumpTrack starts pumping src into local. onStop runs once when the track stops.
func NewPumpTrack(kind domain.MediaKind, local *webrtc.TrackLocalStaticRTP, src PacketSource, onStop func()) *PumpTrack {
	return startPump(local.ID(), kind, local, local, src, onStop)
}

func startPump(id string, kind domain.MediaKind, local *webrtc.TrackLocalStaticRTP, sink packetSink, src PacketSource, onStop func()) *PumpTrack {
	ctx, cancel := context.WithCancel(context.Background())
	t := &PumpTrack{
		id:     id,
		kind:   kind,
		local:  local,
		sink:   sink,
		src:    src,
		cancel: cancel,
		done:   make(chan struct{}),
		onStop: onStop,
		logger: log.With().Str("module", "adapters.media").Str("track", id).Str("kind", string(kind)).Logger(),
	}
	go t.loop(ctx)
	return t
}

func (t *PumpTrack) ID() string                    { return t.id }
func (t *PumpTrack) Kind() domain.MediaKind        { return t.kind }
func (t *PumpTrack) TrackLocal() webrtc.TrackLocal { return t.local }

func (t *PumpTrack) State() TrackState { return TrackState(t.state.Load()) }

// Written counts packets handed to the static track.
func (t *PumpTrack) Written() uint64 { return t.written.Load() }

func (t *PumpTrack) SetEnabled(enabled bool) {
	if enabled {
		t.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
	} else {
		t.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
	}
}

func (t *PumpTrack) Enabled() bool { return t.State() == TrackStateOk }

func (t *PumpTrack) Stop() {
	t.once.Do(func() {
		t.state.Store(int32(TrackStateStopped))
		t.cancel()
		if err := t.src.Close(); err != nil {
			t.logger.Warn().Err(err).Msg("close source")
		}
		<-t.done
		if t.onStop != nil {
			t.onStop()
		}
		t.logger.Info().Uint64("packets", t.Written()).Msg("track stopped")
	})
}

// loop reads from the source until it fails or the track stops. Muted
// packets are read and dropped so the encoder keeps running.
func (t *PumpTrack) loop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkts, release, err := t.src.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				t.logger.Error().Err(err).Msg("read RTP, stopping")
			}
			t.state.Store(int32(TrackStateStopped))
			return
		}
		if t.State() == TrackStateOk {
			for _, p := range pkts {
				if err := t.sink.WriteRTP(p); err != nil && !errors.Is(err, io.ErrClosedPipe) {
					t.logger.Warn().Err(err).Msg("write RTP")
					continue
				}
				t.written.Add(1)
			}
		}
		if release != nil {
			release()
		}
	}
}
