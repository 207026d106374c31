// Package ratelimit implements per-source admission control: a windowed
// counter with a non-replenishing burst allowance and a violation score that
// contracts the limit for repeat offenders.
package ratelimit

import (
	"sync"
	"time"
)

// Action is the kind of request being admitted
type Action string

const (
	ActionMessage    Action = "message"
	ActionConnection Action = "connection"
	ActionRoomCreate Action = "room_create"
	ActionJoin       Action = "join"
)

// Actions lists every action with a default rule
var Actions = []Action{ActionMessage, ActionConnection, ActionRoomCreate, ActionJoin}

// Rule configures one action kind
type Rule struct {
	Max    int           // requests per window before burst is consumed
	Period time.Duration // window length
	Burst  int           // extra requests admitted per window
	Decay  float64       // violations forgiven at each window boundary

	// IncreasingStrictness lowers the limit by one per violation point,
	// never below MinLimit.
	IncreasingStrictness bool
	MinLimit             int
}

// DefaultRules returns the built-in rule set
func DefaultRules() map[Action]Rule {
	return map[Action]Rule{
		// Chat tolerates short bursts
		ActionMessage: {Max: 30, Period: time.Minute, Burst: 10, Decay: 1, IncreasingStrictness: true, MinLimit: 5},
		ActionConnection: {Max: 20, Period: time.Minute, Burst: 5, Decay: 1, IncreasingStrictness: true, MinLimit: 3},
		// Room creation is strict and slow to forgive
		ActionRoomCreate: {Max: 5, Period: time.Hour, Burst: 0, Decay: 0.25, IncreasingStrictness: true, MinLimit: 1},
		ActionJoin:       {Max: 30, Period: time.Minute, Burst: 5, Decay: 1},
	}
}

// entry is the state held for one (source, action) key
type entry struct {
	count          int
	reset          time.Time
	violations     float64
	burstRemaining int
}

type key struct {
	source string
	action Action
}

// Result describes one admission decision
type Result struct {
	Allowed        bool
	Count          int
	Limit          int
	BurstRemaining int
	Violations     float64
	ResetAt        time.Time
}

// Limiter admits or rejects requests per (source, action)
type Limiter struct {
	mu      sync.Mutex
	rules   map[Action]Rule
	entries map[key]*entry
	now     func() time.Time
}

// Option customizes a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter. Actions missing from rules fall back to the
// defaults.
func NewLimiter(rules map[Action]Rule, opts ...Option) *Limiter {
	merged := DefaultRules()
	for a, r := range rules {
		merged[a] = sanitizeRule(r)
	}
	l := &Limiter{
		rules:   merged,
		entries: make(map[key]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func sanitizeRule(r Rule) Rule {
	if r.Max < 1 {
		r.Max = 1
	}
	if r.Period <= 0 {
		r.Period = time.Minute
	}
	if r.Burst < 0 {
		r.Burst = 0
	}
	if r.Decay < 0 {
		r.Decay = 0
	}
	if r.MinLimit < 1 {
		r.MinLimit = 1
	}
	if r.MinLimit > r.Max {
		r.MinLimit = r.Max
	}
	return r
}

// Rule returns the rule in force for action
func (l *Limiter) Rule(action Action) Rule {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ruleFor(action)
}

func (l *Limiter) ruleFor(action Action) Rule {
	if r, ok := l.rules[action]; ok {
		return r
	}
	return sanitizeRule(Rule{})
}

// effectiveLimit is the window ceiling after applying the violation penalty
func effectiveLimit(r Rule, violations float64) int {
	if !r.IncreasingStrictness {
		return r.Max
	}
	limit := r.Max - int(violations)
	if limit < r.MinLimit {
		limit = r.MinLimit
	}
	return limit
}

// Check records one request for (source, action) and returns the decision
func (l *Limiter) Check(source string, action Action) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	rule := l.ruleFor(action)
	now := l.now()
	k := key{source: source, action: action}

	e, ok := l.entries[k]
	if !ok {
		e = &entry{reset: now.Add(rule.Period), burstRemaining: rule.Burst}
		l.entries[k] = e
	} else if !now.Before(e.reset) {
		e.violations -= rule.Decay
		if e.violations < 0 {
			e.violations = 0
		}
		e.count = 0
		e.burstRemaining = rule.Burst
		e.reset = now.Add(rule.Period)
	}

	e.count++
	limit := effectiveLimit(rule, e.violations)

	allowed := true
	if e.count > limit {
		if e.burstRemaining > 0 {
			e.burstRemaining--
		} else {
			allowed = false
			e.violations++
		}
	}

	return Result{
		Allowed:        allowed,
		Count:          e.count,
		Limit:          limit,
		BurstRemaining: e.burstRemaining,
		Violations:     e.violations,
		ResetAt:        e.reset,
	}
}

// Allow records a request and reports whether it is admitted
func (l *Limiter) Allow(source string, action Action) bool {
	return l.Check(source, action).Allowed
}

// IsRateLimited records a request and reports whether it is rejected
func (l *Limiter) IsRateLimited(source string, action Action) bool {
	return !l.Allow(source, action)
}

// staleViolations is the score below which an expired entry is dropped
const staleViolations = 0.01

// Cleanup purges entries whose window has expired and whose violation score
// would decay to (near) zero. Returns the number removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, e := range l.entries {
		if now.Before(e.reset) {
			continue
		}
		if e.violations-l.ruleFor(k.action).Decay < staleViolations {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset drops all state
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[key]*entry)
}
