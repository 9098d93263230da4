package clock

import (
	"testing"
	"time"
)

func TestManualAdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewManual(start)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("expected %v got %v", start, got)
	}
	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("advance mismatch: %v", got)
	}
	later := start.Add(time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Fatalf("set mismatch: %v", got)
	}
}

func TestSystemIsUTC(t *testing.T) {
	if loc := (System{}).Now().Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
}

func TestFuncFallsBackWhenNil(t *testing.T) {
	var f Func
	if f.Now().IsZero() {
		t.Fatal("expected wall clock time from nil Func")
	}
	fixed := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)
	f = func() time.Time { return fixed }
	if !f.Now().Equal(fixed) {
		t.Fatal("expected fixed time")
	}
}
