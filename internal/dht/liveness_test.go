package dht

import (
	"testing"
	"time"
)

func TestLivenessStat_Rate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stat := NewLivenessStat(base)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    string // "fresh", "stale", "dead"
	}{
		{"just created", 0, "fresh"},
		{"well inside fresh window", 10 * time.Minute, "fresh"},
		{"exactly fresh boundary", 15 * time.Minute, "stale"},
		{"middle of stale window", 20 * time.Minute, "stale"},
		{"exactly dead boundary", 30 * time.Minute, "stale"},
		{"past dead boundary", 31 * time.Minute, "dead"},
		{"long idle", 48 * time.Hour, "dead"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := base.Add(tt.elapsed)
			switch tt.want {
			case "fresh":
				if !stat.IsFresh(now) {
					t.Fatalf("IsFresh(%v) = false, want true", tt.elapsed)
				}
			case "stale":
				if !stat.IsStale(now) {
					t.Fatalf("IsStale(%v) = false, want true", tt.elapsed)
				}
			case "dead":
				if !stat.IsDead(now) {
					t.Fatalf("IsDead(%v) = false, want true", tt.elapsed)
				}
			}
		})
	}
}

func TestLivenessStat_RenewNeverMovesBackwards(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stat := NewLivenessStat(base)

	later := base.Add(time.Hour)
	stat.Renew(later)
	if !stat.LastResponse().Equal(later) {
		t.Fatalf("LastResponse = %v, want %v", stat.LastResponse(), later)
	}

	earlier := base.Add(-time.Hour)
	stat.Renew(earlier)
	if !stat.LastResponse().Equal(later) {
		t.Fatalf("Renew moved lastResponse backwards: got %v, want %v", stat.LastResponse(), later)
	}
}

func TestLivenessStat_FirstSeenIsImmutable(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stat := NewLivenessStat(base)
	stat.Renew(base.Add(time.Hour))

	if !stat.FirstSeen().Equal(base) {
		t.Fatalf("FirstSeen changed: got %v, want %v", stat.FirstSeen(), base)
	}
}
