package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("10:00-12:00")
	require.NoError(t, err)
	require.Equal(t, "10:00-12:00", w.String())

	for _, bad := range []string{"", "10:00", "12:00-10:00", "10:00-10:00", "25:00-26:00", "aa:bb-cc:dd"} {
		_, err := ParseWindow(bad)
		require.Error(t, err, "expected error for %q", bad)
	}
}

func TestWindowContains(t *testing.T) {
	w := MustParseWindow("10:00-12:00")
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	require.False(t, w.Contains(day.Add(9*time.Hour+59*time.Minute)))
	require.True(t, w.Contains(day.Add(10*time.Hour)))
	require.True(t, w.Contains(day.Add(11*time.Hour+59*time.Minute)))
	require.False(t, w.Contains(day.Add(12*time.Hour)))
}
