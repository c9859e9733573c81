package ffmpeg

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResourceGuard(t *testing.T) {
	t.Run("no thresholds", func(t *testing.T) {
		g := &ResourceGuard{Dir: t.TempDir(), Sample: 10 * time.Millisecond}
		assert.NoError(t, g.Check())
	})

	t.Run("memory threshold unreachable", func(t *testing.T) {
		g := &ResourceGuard{Dir: t.TempDir(), Sample: 10 * time.Millisecond, FreeMem: math.MaxInt64}
		assert.ErrorIs(t, g.Check(), ErrInsufficientResources)
	})
}
