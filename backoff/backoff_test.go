package backoff_test

import (
	"testing"
	"time"

	"github.com/qualidade-ams/books-sonda-sub000/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(5*time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},  // 5 * 2^0
		{2, 10 * time.Second}, // 5 * 2^1
		{3, 20 * time.Second}, // 5 * 2^2
		{4, 40 * time.Second}, // 5 * 2^3
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_Monotonic(t *testing.T) {
	e := backoff.NewExponential(5*time.Second, 5*time.Minute)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		d := e.Delay(attempt)
		if d < prev {
			t.Fatalf("Delay(%d) = %v < Delay(%d) = %v, backoff must be monotonic", attempt, d, attempt-1, prev)
		}
		prev = d
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(5*time.Second, 5*time.Minute)

	// Attempt 8 = 5s * 2^7 = 640s > 300s max.
	if got := e.Delay(8); got != 5*time.Minute {
		t.Errorf("Delay(8) = %v, want %v (capped at Max)", got, 5*time.Minute)
	}
	if got := e.Delay(40); got != 5*time.Minute {
		t.Errorf("Delay(40) = %v, want %v (capped at Max)", got, 5*time.Minute)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)

	for attempt := 1; attempt <= 5; attempt++ {
		for range 100 {
			got := e.Delay(attempt)
			if got < 0 {
				t.Errorf("Delay(%d) = %v, should be >= 0", attempt, got)
			}
			if got > 10*time.Second {
				t.Errorf("Delay(%d) = %v, should be <= %v", attempt, got, 10*time.Second)
			}
		}
	}
}

func TestDefaultStrategy_MatchesSchedulerDefaults(t *testing.T) {
	s := backoff.DefaultStrategy()
	if s == nil {
		t.Fatal("DefaultStrategy() returned nil")
	}

	if got := s.Delay(1); got != 5*time.Second {
		t.Errorf("Delay(1) = %v, want 5s", got)
	}
	if got := s.Delay(2); got != 10*time.Second {
		t.Errorf("Delay(2) = %v, want 10s", got)
	}
	if got := s.Delay(20); got != 5*time.Minute {
		t.Errorf("Delay(20) = %v, want the 5m cap", got)
	}
}
