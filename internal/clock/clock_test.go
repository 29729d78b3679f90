package clock

import (
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	c := Fake(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Now = %v, want %v", c.Now(), start)
	}
	c.Advance(24 * time.Hour)
	if got := c.Now().Format("2006-01-02"); got != "2026-06-02" {
		t.Errorf("after Advance = %s", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("after Set = %v", c.Now())
	}
}

func TestRealClockMoves(t *testing.T) {
	c := Real()
	a := c.Now()
	if a.IsZero() {
		t.Fatal("real clock returned zero time")
	}
}
