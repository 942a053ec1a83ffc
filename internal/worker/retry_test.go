package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 3 * time.Second},
		{1, 3 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{4, 6 * time.Second},
		{10, 6 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.retry), "retry %d", tt.retry)
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.False(t, p.Exhausted(1))
	assert.False(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4), "initial attempt plus three retries")

	none := RetryPolicy{}
	assert.True(t, none.Exhausted(1))
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_Elapses(t *testing.T) {
	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}
