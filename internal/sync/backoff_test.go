package sync

import (
	"testing"
	"time"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{20, 5 * time.Minute},
		{100, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, base, max); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffIsMonotonic(t *testing.T) {
	base := 500 * time.Millisecond
	max := time.Minute
	prev := time.Duration(0)
	for attempt := 1; attempt <= 40; attempt++ {
		d := Backoff(attempt, base, max)
		if d < prev {
			t.Fatalf("Backoff(%d) = %v decreased below %v", attempt, d, prev)
		}
		if d > max {
			t.Fatalf("Backoff(%d) = %v exceeds cap %v", attempt, d, max)
		}
		prev = d
	}
}

func TestBackoffWithJitterStaysBounded(t *testing.T) {
	base := time.Second
	max := 30 * time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		floor := Backoff(attempt, base, max)
		for i := 0; i < 50; i++ {
			d := BackoffWithJitter(attempt, base, max)
			if d < floor {
				t.Fatalf("jittered delay %v below deterministic floor %v", d, floor)
			}
			if d > max {
				t.Fatalf("jittered delay %v exceeds cap %v", d, max)
			}
		}
	}
}
