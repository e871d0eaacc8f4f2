package timeutil

import (
	"testing"
	"time"
)

func TestMockTicker(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	tk := c.NewTicker(time.Minute)

	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticked early")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-tk.C():
		if !got.Equal(start.Add(time.Minute)) {
			t.Errorf("tick time = %v", got)
		}
	default:
		t.Fatal("expected a tick")
	}

	tk.Stop()
	c.Advance(time.Hour)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	if c.Tickers() != 1 {
		t.Errorf("Tickers() = %d", c.Tickers())
	}
	if !c.Now().Equal(start.Add(time.Hour + time.Minute)) {
		t.Errorf("Now() = %v", c.Now())
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
	if c.Now().IsZero() {
		t.Error("Now() is zero")
	}
}
