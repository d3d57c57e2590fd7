package rtc

import (
	"github.com/dkeye/Stage/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is a received track. Renderers read packets from it.
type RemoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (r *RemoteTrack) ID() string { return r.track.StreamID() + "/" + r.track.ID() }

func (r *RemoteTrack) Kind() domain.MediaKind {
	if r.track.Kind() == webrtc.RTPCodecTypeVideo {
		return domain.MediaVideo
	}
	return domain.MediaAudio
}

func (r *RemoteTrack) MimeType() string { return r.track.Codec().MimeType }

func (r *RemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return r.track.ReadRTP()
}
