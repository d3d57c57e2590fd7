//go:build !linux

package media

import (
	"context"
	"fmt"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

// Acquire always fails: capture drivers exist only for linux. Audience
// members still receive media.
func (s *Source) Acquire(_ context.Context, kind domain.CaptureKind) (*core.LocalMediaBundle, error) {
	return nil, fmt.Errorf("%w: no %s capture driver on this platform", domain.ErrMediaUnavailable, kind)
}
