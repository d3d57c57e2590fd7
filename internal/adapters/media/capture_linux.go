//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// Acquire opens V4L2/malgo devices, falling back to fewer tracks when a
// device is missing or busy.
func (s *Source) Acquire(ctx context.Context, kind domain.CaptureKind) (*core.LocalMediaBundle, error) {
	selector, err := codecSelector()
	if err != nil {
		return nil, fmt.Errorf("%w: codecs: %v", domain.ErrMediaUnavailable, err)
	}
	logger := log.With().Str("module", "adapters.media").Str("capture", string(kind)).Logger()
	for _, d := range mediadevices.EnumerateDevices() {
		logger.Debug().Str("device", d.Label).Str("device_kind", fmt.Sprint(d.Kind)).Msg("media device")
	}

	var lastErr error
	for _, a := range attempts(kind) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				c.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420, frame.FormatI444, frame.FormatRGBA}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}
		b, err := s.bundle(stream.GetTracks())
		if err != nil {
			logger.Warn().Err(err).Str("attempt", a.label).Msg("track broken, skipping attempt")
			lastErr = err
			continue
		}
		logger.Info().Str("attempt", a.label).Int("tracks", len(b.Tracks())).Msg("local media captured")
		return b, nil
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, lastErr)
}

func (s *Source) bundle(tracks []mediadevices.Track) (*core.LocalMediaBundle, error) {
	var (
		audio, video core.LocalTrack
		started      []*PumpTrack
	)
	fail := func(err error) (*core.LocalMediaBundle, error) {
		for _, p := range started {
			p.Stop()
		}
		for _, t := range tracks {
			t.Close()
		}
		return nil, err
	}
	for _, t := range tracks {
		kind := domain.MediaAudio
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.MediaVideo
		}
		reader, err := t.NewRTPReader(codecFor(kind).MimeType, newSSRC(), rtpMTU)
		if err != nil {
			return fail(err)
		}
		local, err := s.newLocal(kind)
		if err != nil {
			_ = reader.Close()
			return fail(err)
		}
		dev := t
		p := NewPumpTrack(kind, local, reader, func() { dev.Close() })
		started = append(started, p)
		if kind == domain.MediaVideo {
			video = p
		} else {
			audio = p
		}
	}
	if audio == nil && video == nil {
		return fail(errors.New("no tracks"))
	}
	return core.NewLocalMediaBundle(audio, video), nil
}
