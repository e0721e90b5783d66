package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPolicy(t *testing.T, fragment int64, tdRatio, aofRatio float64) *MuxerPolicy {
	t.Helper()
	window := NewWindow(nil)
	p, err := NewMuxerPolicy(fragment, tdRatio, aofRatio, false, 0, window, 8, nil)
	require.NoError(t, err)
	return p
}

func TestIsSegmentOverflow(t *testing.T) {
	fragment := int64(10 * 90000) // 10s fragment target
	p := newTestPolicy(t, fragment, 1.5, 3.0)

	// Below 2x minimum: never overflows regardless of target duration math.
	assert.False(t, p.IsSegmentOverflow(int64(15*90000)))

	// Above 2x minimum and past max_td (15s): overflow.
	assert.True(t, p.IsSegmentOverflow(int64(21*90000)))
}

func TestIsSegmentAbsolutelyOverflow(t *testing.T) {
	fragment := int64(10 * 90000)
	p := newTestPolicy(t, fragment, 1.5, 3.0)

	assert.False(t, p.IsSegmentAbsolutelyOverflow(int64(29*90000)))
	assert.True(t, p.IsSegmentAbsolutelyOverflow(int64(30*90000)))
}

func TestDeviationZeroWhenTSFloorDisabled(t *testing.T) {
	p := newTestPolicy(t, int64(10*90000), 1.5, 3.0)
	assert.Equal(t, int64(0), p.deviation())
}

func TestDeviationAppliesWhenTSFloorEnabled(t *testing.T) {
	window := NewWindow(nil)
	p, err := NewMuxerPolicy(int64(10*90000), 1.5, 3.0, true, 0.1, window, 8, nil)
	require.NoError(t, err)
	p.DeviationTicks = 90000

	assert.Greater(t, p.deviation(), int64(0))
}
