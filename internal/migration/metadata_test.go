package migration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(h int) *time.Time {
	t := time.Date(2026, 4, 1, h, 0, 0, 0, time.UTC)
	return &t
}

func TestStatusShouldDeriveFromTimestamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		meta Metadata
		want Status
	}{
		{name: "no timestamps", meta: Metadata{}, want: StatusNotStarted},
		{name: "triggered only", meta: Metadata{TriggeredAt: ts(1)}, want: StatusScheduled},
		{name: "started", meta: Metadata{TriggeredAt: ts(1), StartTime: ts(2)}, want: StatusInProgress},
		{name: "started without trigger", meta: Metadata{StartTime: ts(2)}, want: StatusInProgress},
		{name: "finished", meta: Metadata{TriggeredAt: ts(1), StartTime: ts(2), EndTime: ts(3)}, want: StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.meta.Status())
		})
	}
}

func TestCanMigrateShouldOnlyAllowEarlyStates(t *testing.T) {
	t.Parallel()

	assert.True(t, Metadata{}.CanMigrate())
	assert.True(t, Metadata{TriggeredAt: ts(1)}.CanMigrate())
	assert.False(t, Metadata{StartTime: ts(2)}.CanMigrate())
	assert.False(t, Metadata{StartTime: ts(2), EndTime: ts(3)}.CanMigrate())
}

func TestTransitionsShouldBeMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	meta := Metadata{ProjectID: 5}

	meta, err := meta.Trigger(now)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, meta.Status())

	_, err = meta.Trigger(now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyTriggered)

	meta, err = meta.Start(now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, meta.Status())

	_, err = meta.Start(now.Add(2 * time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	meta, err = meta.Finish(now.Add(3 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, meta.Status())

	_, err = meta.Finish(now.Add(4 * time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyFinished)
	_, err = meta.Start(now.Add(4 * time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestFinishShouldRequireStart(t *testing.T) {
	t.Parallel()

	_, err := Metadata{TriggeredAt: ts(1)}.Finish(time.Now())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestLastTransitionShouldReturnMostRecentTimestamp(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Metadata{}.LastTransition())
	assert.Equal(t, ts(1), Metadata{TriggeredAt: ts(1)}.LastTransition())
	assert.Equal(t, ts(2), Metadata{TriggeredAt: ts(1), StartTime: ts(2)}.LastTransition())
	assert.Equal(t, ts(3), Metadata{TriggeredAt: ts(1), StartTime: ts(2), EndTime: ts(3)}.LastTransition())
}
