package backoff

import (
	"testing"
	"time"
)

func noJitter() float64   { return 0 }
func fullJitter() float64 { return 1 }

func TestExponentialGrowth(t *testing.T) {
	d1 := delay(1, time.Second, 30*time.Second, noJitter)
	d2 := delay(2, time.Second, 30*time.Second, noJitter)
	d3 := delay(3, time.Second, 30*time.Second, noJitter)

	if !(d1 < d2 && d2 < d3) {
		t.Errorf("expected strictly growing delays, got %v %v %v", d1, d2, d3)
	}
	if d1 != 2*time.Second || d2 != 4*time.Second || d3 != 8*time.Second {
		t.Errorf("unexpected delays: %v %v %v", d1, d2, d3)
	}
}

func TestCap(t *testing.T) {
	max := 30 * time.Second

	if d := delay(10, time.Second, max, noJitter); d != max {
		t.Errorf("expected capped delay %v, got %v", max, d)
	}
	// Even absurd attempt counts must not overflow past the cap.
	if d := delay(500, time.Second, max, noJitter); d != max {
		t.Errorf("expected capped delay %v, got %v", max, d)
	}
}

func TestJitterBounds(t *testing.T) {
	max := 30 * time.Second
	upper := time.Duration(float64(max) * 1.2)

	if d := delay(10, time.Second, max, fullJitter); d > upper {
		t.Errorf("delay %v exceeds max*1.2 (%v)", d, upper)
	}

	for attempt := 0; attempt < 8; attempt++ {
		base := delay(attempt, time.Second, max, noJitter)
		for i := 0; i < 50; i++ {
			d := Delay(attempt, time.Second, max)
			if d < base {
				t.Fatalf("attempt %d: jittered delay %v below base %v", attempt, d, base)
			}
			if limit := time.Duration(float64(base) * 1.2); d > limit {
				t.Fatalf("attempt %d: jittered delay %v above base*1.2 %v", attempt, d, limit)
			}
		}
	}
}

func TestWholeMilliseconds(t *testing.T) {
	for i := 0; i < 20; i++ {
		d := Delay(2, time.Second, 30*time.Second)
		if d != d.Truncate(time.Millisecond) {
			t.Fatalf("delay %v is not a whole millisecond count", d)
		}
	}
}

func TestDefaults(t *testing.T) {
	if d := delay(0, 0, 0, noJitter); d != DefaultBase {
		t.Errorf("expected default base %v at attempt 0, got %v", DefaultBase, d)
	}
	if d := delay(-5, 0, 0, noJitter); d != DefaultBase {
		t.Errorf("negative attempt should clamp to 0, got %v", d)
	}
}
