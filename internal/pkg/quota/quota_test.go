package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowUnlimited(t *testing.T) {
	// A negative limit short-circuits before touching the counter.
	ok, remaining, err := Allow(context.Background(), 1, -1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, -1, remaining)
}

func TestRefundUnlimited(t *testing.T) {
	// Unlimited plans never consumed a unit, so there is nothing to return.
	assert.NoError(t, Refund(context.Background(), 1, -1))
}

func TestDayKey(t *testing.T) {
	at := time.Date(2026, time.March, 15, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "chat:quota:42:2026-03-15", dayKey(42, at))

	// Different users and days never share a key.
	assert.NotEqual(t, dayKey(42, at), dayKey(43, at))
	assert.NotEqual(t, dayKey(42, at), dayKey(42, at.AddDate(0, 0, 1)))
}

func TestEndOfDay(t *testing.T) {
	tests := []struct {
		at   time.Time
		want time.Time
	}{
		{
			at:   time.Date(2026, time.March, 15, 0, 0, 1, 0, time.UTC),
			want: time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			at:   time.Date(2026, time.March, 15, 23, 59, 59, 0, time.UTC),
			want: time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			at:   time.Date(2026, time.December, 31, 12, 0, 0, 0, time.UTC),
			want: time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		got := endOfDay(tt.at)
		assert.True(t, got.Equal(tt.want), "endOfDay(%v) = %v, want %v", tt.at, got, tt.want)
		assert.True(t, got.After(tt.at), "the expiry must be in the future for %v", tt.at)
	}
}
