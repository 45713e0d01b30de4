package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// TestFakeSleepAdvances tests that sleeping moves simulated time
func TestFakeSleepAdvances(t *testing.T) {
	clk := NewFake(start)
	require.NoError(t, clk.Sleep(context.Background(), time.Minute))
	assert.Equal(t, start.Add(time.Minute), clk.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, clk.Sleep(ctx, time.Hour), context.Canceled)
	assert.Equal(t, start.Add(time.Minute), clk.Now())
}

// TestFakeAfter tests that After fires once the clock passes the deadline
func TestFakeAfter(t *testing.T) {
	clk := NewFake(start)
	ch := clk.After(10 * time.Second)

	clk.Advance(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	clk.Set(start.Add(time.Minute))
	select {
	case at := <-ch:
		assert.Equal(t, start.Add(time.Minute), at)
	default:
		t.Fatal("did not fire")
	}

	select {
	case <-clk.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

// TestRealSleepCancel tests that the wall clock sleep honours cancellation
func TestRealSleepCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, New().Sleep(ctx, time.Hour), context.DeadlineExceeded)
	assert.NoError(t, New().Sleep(context.Background(), time.Millisecond))
}
