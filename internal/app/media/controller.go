// Package media owns the local participant's capture bundle.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/rs/zerolog/log"
)

type Controller struct {
	source core.MediaSource
	kind   domain.CaptureKind

	mu     sync.Mutex
	bundle *core.LocalMediaBundle
}

func NewController(source core.MediaSource, kind domain.CaptureKind) *Controller {
	if kind == "" {
		kind = domain.CaptureBoth
	}
	return &Controller{source: source, kind: kind}
}

// AcquireLocalBundle returns the held bundle or captures a new one.
// The lock is held across capture so concurrent callers share one bundle.
func (c *Controller) AcquireLocalBundle(ctx context.Context) (*core.LocalMediaBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bundle != nil && !c.bundle.Released() {
		return c.bundle, nil
	}
	b, err := c.source.Acquire(ctx, c.kind)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.media").Str("capture", string(c.kind)).Msg("capture failed")
		return nil, fmt.Errorf("acquire local bundle: %w", asUnavailable(err))
	}
	if b == nil {
		return nil, fmt.Errorf("acquire local bundle: %w: no tracks", domain.ErrMediaUnavailable)
	}
	c.bundle = b
	log.Info().Str("module", "app.media").Int("tracks", len(b.Tracks())).Msg("local bundle acquired")
	return b, nil
}

func asUnavailable(err error) error {
	if errors.Is(err, domain.ErrMediaUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
}

// Bundle returns the held bundle, nil when none is held.
func (c *Controller) Bundle() *core.LocalMediaBundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bundle == nil || c.bundle.Released() {
		return nil
	}
	return c.bundle
}

// SetAudioEnabled reports whether a held bundle was changed.
func (c *Controller) SetAudioEnabled(enabled bool) bool {
	return c.setEnabled(domain.MediaAudio, enabled)
}

func (c *Controller) SetVideoEnabled(enabled bool) bool {
	return c.setEnabled(domain.MediaVideo, enabled)
}

func (c *Controller) setEnabled(kind domain.MediaKind, enabled bool) bool {
	b := c.Bundle()
	if b == nil {
		return false
	}
	ok := b.SetEnabled(kind, enabled)
	if ok {
		log.Info().Str("module", "app.media").Str("kind", string(kind)).Bool("enabled", enabled).Msg("track toggled")
	}
	return ok
}

func (c *Controller) Release() {
	c.mu.Lock()
	b := c.bundle
	c.bundle = nil
	c.mu.Unlock()
	if b == nil {
		return
	}
	b.Release()
	log.Info().Str("module", "app.media").Msg("local bundle released")
}
