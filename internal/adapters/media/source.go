package media

import (
	"math/rand"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/pion/webrtc/v4"
)

const rtpMTU = 1200

// Source captures the local camera and microphone.
type Source struct {
	streamID string
}

func NewSource(streamID string) *Source {
	if streamID == "" {
		streamID = "stage"
	}
	return &Source{streamID: streamID}
}

type attempt struct {
	video bool
	audio bool
	label string
}

// attempts lists capture combinations from richest to poorest. A missing
// microphone must not keep the camera from working and vice versa.
func attempts(kind domain.CaptureKind) []attempt {
	switch kind {
	case domain.CaptureAudio:
		return []attempt{{audio: true, label: "audio-only"}}
	case domain.CaptureVideo:
		return []attempt{{video: true, label: "video-only"}}
	}
	return []attempt{
		{video: true, audio: true, label: "video+audio"},
		{video: true, label: "video-only"},
		{audio: true, label: "audio-only"},
	}
}

func codecFor(kind domain.MediaKind) webrtc.RTPCodecCapability {
	if kind == domain.MediaVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func (s *Source) newLocal(kind domain.MediaKind) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(codecFor(kind), string(kind)+"-"+s.streamID, s.streamID)
}

func newSSRC() uint32 { return rand.Uint32() }
