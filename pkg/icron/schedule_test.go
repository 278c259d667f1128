package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo(t *testing.T) {
	ref := time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)

	info, err := GetTriggerInfo("0 3 * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 9*time.Hour+30*time.Minute, info.TimeSinceLast)
	assert.Equal(t, 14*time.Hour+30*time.Minute, info.TimeUntilNext)
	assert.Equal(t, "0 3 * * *", info.Expression)
}

func TestGetTriggerInfo_Descriptor(t *testing.T) {
	ref := time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)

	info, err := GetTriggerInfo("@daily", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC), info.Next)
}

func TestGetTriggerInfo_Invalid(t *testing.T) {
	_, err := GetTriggerInfo("not a cron expr", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}
