// Package render attaches remote streams to surfaces. Without a display the
// surfaces are files: VP8 into IVF, Opus into Ogg.
package render

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

// PacketStream is a remote stream whose packets can be read.
type PacketStream interface {
	core.RemoteStream
	MimeType() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Log only records attachments.
type Log struct{}

func (Log) Attach(surfaceID string, stream core.RemoteStream) {
	log.Info().Str("module", "render").Str("surface", surfaceID).
		Str("stream", stream.ID()).Str("kind", string(stream.Kind())).Msg("attach")
	if ps, ok := stream.(PacketStream); ok {
		go drain(ps)
	}
}

// drain keeps the receive path flowing when nothing consumes the packets.
func drain(ps PacketStream) {
	for {
		if _, _, err := ps.ReadRTP(); err != nil {
			return
		}
	}
}

// Files writes every attached stream below Dir.
type Files struct {
	Dir string

	wg sync.WaitGroup
}

func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("render dir: %w", err)
	}
	return &Files{Dir: dir}, nil
}

func (f *Files) Attach(surfaceID string, stream core.RemoteStream) {
	logger := log.With().Str("module", "render").Str("surface", surfaceID).Str("stream", stream.ID()).Logger()
	ps, ok := stream.(PacketStream)
	if !ok {
		logger.Warn().Msg("stream has no packets to render")
		return
	}
	w, path, err := f.open(surfaceID, ps)
	if err != nil {
		logger.Warn().Err(err).Msg("no writer, draining")
		go drain(ps)
		return
	}
	logger.Info().Str("file", path).Msg("rendering")

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		n, err := copyRTP(w, ps)
		if cerr := w.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("close writer")
		}
		ev := logger.Info()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Int("packets", n).Msg("render finished")
	}()
}

// Wait blocks until every attached stream has ended.
func (f *Files) Wait() { f.wg.Wait() }

func (f *Files) open(surfaceID string, ps PacketStream) (rtpWriter, string, error) {
	base := filepath.Join(f.Dir, surfaceID+"-"+string(ps.Kind()))
	switch strings.ToLower(ps.MimeType()) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		path := base + ".ivf"
		w, err := ivfwriter.New(path)
		return w, path, err
	case strings.ToLower(webrtc.MimeTypeOpus):
		path := base + ".ogg"
		w, err := oggwriter.New(path, 48000, 2)
		return w, path, err
	}
	return nil, "", fmt.Errorf("unsupported codec %q", ps.MimeType())
}

func copyRTP(w rtpWriter, ps PacketStream) (int, error) {
	n := 0
	for {
		pkt, _, err := ps.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if err := w.WriteRTP(pkt); err != nil {
			return n, err
		}
		n++
	}
}
