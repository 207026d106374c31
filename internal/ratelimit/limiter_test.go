package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestLimiter_BurstThenReject(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(map[Action]Rule{
		ActionMessage: {Max: 10, Period: time.Minute, Burst: 3, Decay: 1},
	}, WithClock(clock.Now))

	for i := 1; i <= 10; i++ {
		require.True(t, l.Allow("src", ActionMessage), "request %d within limit", i)
	}
	for i := 11; i <= 13; i++ {
		require.True(t, l.Allow("src", ActionMessage), "request %d should use burst", i)
	}
	assert.False(t, l.Allow("src", ActionMessage), "14th request should be rejected")

	clock.Advance(time.Minute)
	res := l.Check("src", ActionMessage)
	assert.True(t, res.Allowed, "fresh window should admit")
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 3, res.BurstRemaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(map[Action]Rule{
		ActionMessage:    {Max: 1, Period: time.Minute},
		ActionConnection: {Max: 1, Period: time.Minute},
	})

	assert.True(t, l.Allow("a", ActionMessage))
	assert.False(t, l.Allow("a", ActionMessage))
	assert.True(t, l.Allow("b", ActionMessage), "other source unaffected")
	assert.True(t, l.Allow("a", ActionConnection), "other action unaffected")
}

func TestLimiter_IncreasingStrictness(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(map[Action]Rule{
		ActionRoomCreate: {Max: 5, Period: time.Minute, Decay: 0.5, IncreasingStrictness: true, MinLimit: 2},
	}, WithClock(clock.Now))

	// Five admitted, then three rejections -> three violations
	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("src", ActionRoomCreate))
	}
	for i := 0; i < 3; i++ {
		require.False(t, l.Allow("src", ActionRoomCreate))
	}

	clock.Advance(time.Minute)
	res := l.Check("src", ActionRoomCreate)
	// 3 - 0.5 decay = 2.5 violations -> limit 5-2 = 3
	assert.Equal(t, 2.5, res.Violations)
	assert.Equal(t, 3, res.Limit)
	assert.True(t, l.Allow("src", ActionRoomCreate))
	assert.True(t, l.Allow("src", ActionRoomCreate))
	assert.False(t, l.Allow("src", ActionRoomCreate), "contracted limit applies")
}

func TestLimiter_StrictnessFloor(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(map[Action]Rule{
		ActionConnection: {Max: 3, Period: time.Minute, IncreasingStrictness: true, MinLimit: 2},
	}, WithClock(clock.Now))

	for i := 0; i < 20; i++ {
		l.Allow("src", ActionConnection)
	}
	clock.Advance(time.Minute)

	res := l.Check("src", ActionConnection)
	assert.Equal(t, 2, res.Limit, "limit never drops below MinLimit")
}

func TestLimiter_DecayFloorsAtZero(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(map[Action]Rule{
		ActionJoin: {Max: 1, Period: time.Second, Decay: 5},
	}, WithClock(clock.Now))

	l.Allow("src", ActionJoin)
	l.Allow("src", ActionJoin) // one violation

	clock.Advance(time.Second)
	res := l.Check("src", ActionJoin)
	assert.Equal(t, 0.0, res.Violations)
}

func TestLimiter_Cleanup(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(map[Action]Rule{
		ActionMessage: {Max: 1, Period: time.Minute, Decay: 1},
	}, WithClock(clock.Now))

	l.Allow("quiet", ActionMessage)
	for i := 0; i < 5; i++ {
		l.Allow("noisy", ActionMessage) // four violations
	}
	require.Equal(t, 2, l.Len())

	assert.Equal(t, 0, l.Cleanup(), "nothing expires inside the window")

	clock.Advance(time.Minute)
	assert.Equal(t, 1, l.Cleanup(), "only the quiet key is stale")
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_IsRateLimited(t *testing.T) {
	l := NewLimiter(map[Action]Rule{ActionMessage: {Max: 1, Period: time.Minute}})

	assert.False(t, l.IsRateLimited("src", ActionMessage))
	assert.True(t, l.IsRateLimited("src", ActionMessage))
}

func TestLimiter_DefaultsForMissingActions(t *testing.T) {
	l := NewLimiter(nil)
	assert.Equal(t, DefaultRules()[ActionRoomCreate], l.Rule(ActionRoomCreate))
}

func TestLimiter_Concurrency(t *testing.T) {
	l := NewLimiter(map[Action]Rule{ActionMessage: {Max: 50, Period: time.Hour, Burst: 0}})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared", ActionMessage) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestSanitizeRule(t *testing.T) {
	r := sanitizeRule(Rule{Max: 0, Period: 0, Burst: -1, Decay: -1, MinLimit: 10})
	assert.Equal(t, 1, r.Max)
	assert.Equal(t, time.Minute, r.Period)
	assert.Equal(t, 0, r.Burst)
	assert.Equal(t, 0.0, r.Decay)
	assert.Equal(t, 1, r.MinLimit, fmt.Sprintf("%+v", r))
}
