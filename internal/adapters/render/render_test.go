package render

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/testutil"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type endedStream struct {
	kind domain.MediaKind
	mime string
}

func (s endedStream) ID() string             { return "s" }
func (s endedStream) Kind() domain.MediaKind { return s.kind }
func (s endedStream) MimeType() string       { return s.mime }

func (s endedStream) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}

func header(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b), 4)
	return string(b[:4])
}

func TestFilesWritesContainerPerCodec(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)

	f.Attach("remote-host", endedStream{kind: domain.MediaVideo, mime: webrtc.MimeTypeVP8})
	f.Attach("remote-host", endedStream{kind: domain.MediaAudio, mime: webrtc.MimeTypeOpus})
	f.Wait()

	assert.Equal(t, "DKIF", header(t, filepath.Join(f.Dir, "remote-host-video.ivf")))
	assert.Equal(t, "OggS", header(t, filepath.Join(f.Dir, "remote-host-audio.ogg")))
}

func TestFilesSkipsUnknownStreams(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)

	f.Attach("remote-a", testutil.Stream{StreamID: "x", MediaKind: domain.MediaVideo})
	f.Attach("remote-a", endedStream{kind: domain.MediaVideo, mime: "video/H264"})
	f.Wait()

	entries, err := os.ReadDir(f.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogAttachDoesNotBlock(t *testing.T) {
	assert.NotPanics(t, func() {
		Log{}.Attach("remote-a", testutil.Stream{StreamID: "x", MediaKind: domain.MediaAudio})
		Log{}.Attach("remote-a", endedStream{kind: domain.MediaAudio, mime: webrtc.MimeTypeOpus})
	})
}
