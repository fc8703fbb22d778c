package audiocore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/loopback/internal/errors"
)

func TestResourceTrackerTrackRelease(t *testing.T) {
	t.Parallel()

	rt := NewResourceTracker(0, time.Minute)
	defer func() { _ = rt.Close() }()

	require.NoError(t, rt.Track("s1/in", ResourceCaptureStream, "s1"))
	require.NoError(t, rt.Track("s1/out", ResourcePlaybackStream, "s1"))
	require.NoError(t, rt.Track("s2/in", ResourceCaptureStream, "s2"))

	assert.Equal(t, 3, rt.Active())
	assert.Equal(t, 2, rt.ActiveFor("s1"))

	require.NoError(t, rt.Release("s1/in"))
	require.NoError(t, rt.Release("s1/out"))
	assert.Equal(t, 0, rt.ActiveFor("s1"))

	stats := rt.Stats()
	assert.Equal(t, int64(3), stats.TotalAllocated)
	assert.Equal(t, int64(2), stats.TotalReleased)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, map[string]int{ResourceCaptureStream: 1}, stats.ActiveByType)
}

func TestResourceTrackerErrors(t *testing.T) {
	t.Parallel()

	rt := NewResourceTracker(0, time.Minute)
	defer func() { _ = rt.Close() }()

	err := rt.Release("missing")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))

	require.NoError(t, rt.Track("x", ResourcePlaybackStream, "s"))
	err = rt.Track("x", ResourcePlaybackStream, "s")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestResourceTrackerLeakCheck(t *testing.T) {
	t.Parallel()

	rt := NewResourceTracker(time.Millisecond, 0)
	require.NoError(t, rt.Track("old", ResourceCaptureStream, "s"))

	assert.Equal(t, 1, rt.checkForLeaks())
	require.NoError(t, rt.Release("old"))
	assert.Equal(t, 0, rt.checkForLeaks())

	require.NoError(t, rt.Close())
}
