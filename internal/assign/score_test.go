package assign

import (
	"testing"
	"time"
)

func TestTokenize(t *testing.T) {
	got := tokenize("Fix the DB-migration runner, v2!")
	want := []string{"migration", "runner"}
	if len(got) != len(want) {
		t.Fatalf("tokens: %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d]: %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUrgencyBonus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		in   time.Duration
		want float64
	}{
		{12 * time.Hour, 20},
		{48 * time.Hour, 10},
		{100 * time.Hour, 0},
	}
	for _, c := range cases {
		d := now.Add(c.in)
		if got := urgencyBonus(&d, now); got != c.want {
			t.Errorf("urgencyBonus(%v): %v, want %v", c.in, got, c.want)
		}
	}
	if got := urgencyBonus(nil, now); got != 0 {
		t.Errorf("urgencyBonus(nil): %v", got)
	}
}

func TestCapabilityScore_typeAndKeywords(t *testing.T) {
	a := &Agent{
		ID:   "a1",
		Type: "coder",
		Caps: Capability{Languages: []string{"go"}, Domains: []string{"storage"}},
		Affinity: map[string]int{
			"migration": 2,
		},
	}

	// Full type match, full tag overlap, and a keyword hit from affinity.
	task := Task{Name: "storage migration cleanup", AgentType: "coder", Tags: []string{"storage"}}
	got := capabilityScore(a, task)
	// type 100*0.3 + keywords 2/3*100*0.4 + tags 100*0.3 ≈ 86.7
	if got < 86 || got > 88 {
		t.Errorf("capabilityScore: %v", got)
	}

	// Wrong type zeroes the type share.
	task.AgentType = "reviewer"
	if got := capabilityScore(a, task); got >= 86 {
		t.Errorf("capabilityScore with type mismatch: %v", got)
	}
}

func TestAffinityScore_capped(t *testing.T) {
	a := &Agent{Affinity: map[string]int{}}
	if got := affinityScore(a, Task{Name: "anything else"}); got != 50 {
		t.Errorf("base affinity: %v, want 50", got)
	}

	name := ""
	for _, w := range []string{"alpha", "bravo", "charlie", "delta", "echos", "foxtrot", "golfs", "hotel", "india", "juliet", "kilos", "limas"} {
		a.Affinity[w] = 1
		name += w + " "
	}
	if got := affinityScore(a, Task{Name: name}); got != 100 {
		t.Errorf("capped affinity: %v, want 100", got)
	}
}

func TestPriorityBoost_ordering(t *testing.T) {
	if !(priorityBoost(P1) > priorityBoost(P2) && priorityBoost(P2) > priorityBoost(P3)) {
		t.Errorf("boosts not ordered: P1=%v P2=%v P3=%v", priorityBoost(P1), priorityBoost(P2), priorityBoost(P3))
	}
}
