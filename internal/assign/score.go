package assign

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Priority boosts and urgency bonuses are flat additions on top of the
// weighted 0–100 component blend.
const (
	boostP1 = 20.0
	boostP2 = 10.0
	boostP3 = 0.0

	urgencyUnder24h = 20.0
	urgencyUnder72h = 10.0
)

// Capability sub-score blend: type match 30%, keyword overlap 40%, tag
// overlap 30%.
const (
	capTypeShare    = 0.3
	capKeywordShare = 0.4
	capTagShare     = 0.3
)

// Score breaks a candidate's total down by component for the assignment
// reason string.
type Score struct {
	Capability  float64
	Workload    float64
	Reliability float64
	Affinity    float64
	Boost       float64
	Urgency     float64
	Total       float64
}

// Reason renders a human-readable explanation of the score.
func (s Score) Reason() string {
	return fmt.Sprintf("capability=%.0f workload=%.0f reliability=%.0f affinity=%.0f boost=%.0f urgency=%.0f total=%.1f",
		s.Capability, s.Workload, s.Reliability, s.Affinity, s.Boost, s.Urgency, s.Total)
}

// score computes the weighted total for one candidate. Caller holds e.mu.
func (e *Engine) score(a *Agent, task Task, cons Constraints) Score {
	w := e.cfg.Weights
	s := Score{
		Capability:  capabilityScore(a, task),
		Workload:    (1 - a.Workload) * 100,
		Reliability: a.Reliability * 100,
		Affinity:    affinityScore(a, task),
		Boost:       priorityBoost(task.Priority),
		Urgency:     urgencyBonus(cons.Deadline, e.now()),
	}
	s.Total = s.Capability*w.Capability +
		s.Workload*w.Workload +
		s.Reliability*w.Reliability +
		s.Affinity*w.Affinity +
		s.Boost + s.Urgency
	return s
}

// capabilityScore blends type match, keyword overlap between task-name
// tokens and the agent keyword set, and tag overlap, scaled to 0–100.
func capabilityScore(a *Agent, task Task) float64 {
	typeMatch := 50.0 // neutral when the task does not declare a type
	if task.AgentType != "" {
		if a.Type == task.AgentType {
			typeMatch = 100
		} else {
			typeMatch = 0
		}
	}

	keywords := agentKeywords(a)
	tokens := tokenize(task.Name)
	keywordOverlap := overlap(tokens, keywords)

	tagOverlap := overlap(lowerAll(task.Tags), keywords)

	return typeMatch*capTypeShare + keywordOverlap*capKeywordShare + tagOverlap*capTagShare
}

// affinityScore is base 50 plus 5 per task-name token present in the
// agent's learned affinity table, capped to [0,100].
func affinityScore(a *Agent, task Task) float64 {
	score := 50.0
	for _, tok := range tokenize(task.Name) {
		if a.Affinity[tok] > 0 {
			score += 5
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

func priorityBoost(p Priority) float64 {
	switch p {
	case P1:
		return boostP1
	case P2:
		return boostP2
	default:
		return boostP3
	}
}

func urgencyBonus(deadline *time.Time, now time.Time) float64 {
	if deadline == nil {
		return 0
	}
	until := deadline.Sub(now)
	switch {
	case until < 24*time.Hour:
		return urgencyUnder24h
	case until < 72*time.Hour:
		return urgencyUnder72h
	default:
		return 0
	}
}

// agentKeywords flattens capabilities, specializations, and learned
// affinity keys into one lowercase lookup set.
func agentKeywords(a *Agent) map[string]bool {
	set := make(map[string]bool)
	for _, c := range a.Caps.All() {
		set[strings.ToLower(c)] = true
	}
	for f, on := range a.Caps.Flags {
		if on {
			set[strings.ToLower(f)] = true
		}
	}
	for _, s := range a.Specializations {
		set[strings.ToLower(s)] = true
	}
	for k := range a.Affinity {
		set[k] = true
	}
	return set
}

// overlap returns the percentage of items present in set (0–100), or 0
// when items is empty.
func overlap(items []string, set map[string]bool) float64 {
	if len(items) == 0 {
		return 0
	}
	matched := 0
	for _, it := range items {
		if set[it] {
			matched++
		}
	}
	return float64(matched) / float64(len(items)) * 100
}

// tokenize splits a task name into lowercase alphanumeric tokens longer
// than 3 characters. These drive both keyword matching and affinity
// learning.
func tokenize(name string) []string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) > 3 {
			out = append(out, f)
		}
	}
	return out
}

func lowerAll(xs []string) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = strings.ToLower(x)
	}
	return out
}
