package pipeline

import (
	"testing"
	"time"
)

func TestRateLimiterWindowSlides(t *testing.T) {
	l := NewRateLimiter(2, 4, time.Minute)
	now := time.Now()

	l.Record("u1", now)
	l.Record("u1", now.Add(time.Second))
	if l.Allow("u1", false, now.Add(2*time.Second)) {
		t.Fatal("limit of 2 reached, must deny")
	}

	// First admission slides out of the 60s window.
	if !l.Allow("u1", false, now.Add(61*time.Second)) {
		t.Fatal("expired admissions must free budget")
	}
}

func TestRateLimiterPerAuthorIsolation(t *testing.T) {
	l := NewRateLimiter(1, 1, time.Minute)
	now := time.Now()
	l.Record("u1", now)

	if l.Allow("u1", false, now) {
		t.Fatal("u1 exhausted")
	}
	if !l.Allow("u2", false, now) {
		t.Fatal("u2 must have independent budget")
	}
}
