package waveform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/timeutil"
)

func TestStore_RunEviction(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(fixedNow)
	s := NewStore(FoldOptions{Now: clock.Now})
	s.Ingest("a", info(1, codec.AxisTri, 3, 21))

	reports := make(chan int, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunEviction(ctx, clock, time.Minute, 5*time.Minute, func(n int) { reports <- n })
	}()
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, s.Len(), "not idle yet")

	clock.Advance(5 * time.Minute)
	select {
	case n := <-reports:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("no eviction reported")
	}
	assert.Zero(t, s.Len())

	cancel()
	<-done
}
