package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ICEServers []string
	// Trickle sends candidates as separate signals instead of waiting for gathering.
	Trickle bool
}

func DefaultWebRTCConfig(servers []string) webrtc.Configuration {
	if len(servers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	}
}

// Connector creates peer connections sharing one API (codecs, interceptors, ICE settings).
type Connector struct {
	api  *webrtc.API
	cfg  webrtc.Configuration
	opts Options
}

func NewConnector(opts Options) (*Connector, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	return &Connector{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		cfg:  DefaultWebRTCConfig(opts.ICEServers),
		opts: opts,
	}, nil
}

// CreateLink builds a peer connection carrying media when given. An
// initiator negotiates in the background and emits its offer through events.
func (cn *Connector) CreateLink(initiator bool, media *core.LocalMediaBundle, events core.LinkEvents) (core.Link, error) {
	pc, err := cn.api.NewPeerConnection(cn.cfg)
	if err != nil {
		return nil, err
	}
	c := newConnection(pc, initiator, cn.opts.Trickle, events)

	sending := map[domain.MediaKind]bool{}
	if media != nil {
		for _, t := range media.Tracks() {
			rt, ok := t.(RTPTrack)
			if !ok {
				continue
			}
			sender, err := pc.AddTrack(rt.TrackLocal())
			if err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
			sending[t.Kind()] = true
			go drainRTCP(sender)
		}
	}
	if initiator {
		if err := addRecvOnly(pc, sending); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	c.bind()
	if initiator {
		go c.offer()
	}
	return c, nil
}

// addRecvOnly gives the offer an m-line for every kind we do not send, so the
// remote side can still publish it.
func addRecvOnly(pc *webrtc.PeerConnection, sending map[domain.MediaKind]bool) error {
	for kind, codecType := range map[domain.MediaKind]webrtc.RTPCodecType{
		domain.MediaAudio: webrtc.RTPCodecTypeAudio,
		domain.MediaVideo: webrtc.RTPCodecTypeVideo,
	} {
		if sending[kind] {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(codecType, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// drainRTCP reads RTCP so interceptors (NACK, reports) keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			log.Debug().Str("module", "webrtc").Err(err).Msg("rtcp reader done")
			return
		}
	}
}
