package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/config"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/ratelimit"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/security"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/usecase"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stepCounter passes through to the room manager and counts what each
// emergency strategy removed
type stepCounter struct {
	*usecase.RoomManager
	idle, lowActivity, largest int
}

func (s *stepCounter) EvictIdle(maxIdle time.Duration) int {
	n := s.RoomManager.EvictIdle(maxIdle)
	s.idle += n
	return n
}

func (s *stepCounter) EvictLowActivity(minIdle time.Duration, fraction float64) int {
	n := s.RoomManager.EvictLowActivity(minIdle, fraction)
	s.lowActivity += n
	return n
}

func (s *stepCounter) EvictLargestActive(activeWithin time.Duration, fraction float64) int {
	n := s.RoomManager.EvictLargestActive(activeWithin, fraction)
	s.largest += n
	return n
}

func newRoomManager(t *testing.T, cfg *config.Config, clock *testClock) *usecase.RoomManager {
	t.Helper()
	tokens, err := security.NewTokenService(nil, cfg.TokenExpiry, security.WithClock(clock.Now))
	require.NoError(t, err)
	rm := usecase.NewRoomManager(cfg, ratelimit.NewLimiter(cfg.RateRules, ratelimit.WithClock(clock.Now)), tokens,
		usecase.WithClock(clock.Now))
	t.Cleanup(rm.Shutdown)
	return rm
}

// createAged creates one room per age so that, at the final clock reading,
// each room has been idle for that long. ages must be descending.
func createAged(t *testing.T, rm *usecase.RoomManager, clock *testClock, ages ...time.Duration) {
	t.Helper()
	for i, age := range ages {
		if i > 0 {
			clock.Advance(ages[i-1] - age)
		}
		_, err := rm.CreateRoom(fmt.Sprintf("u%d", i), fmt.Sprintf("Owner%d", i), fmt.Sprintf("203.0.113.%d", i+1))
		require.NoError(t, err)
	}
}

func TestEmergency_DefaultConfigReachesEveryEvictionStep(t *testing.T) {
	cfg := config.DefaultConfig()
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	rm := newRoomManager(t, cfg, clock)
	createAged(t, rm, clock, 19*time.Minute, 9*time.Minute, 90*time.Second, 0)
	require.Equal(t, 4, rm.RoomCount())

	ev := &stepCounter{RoomManager: rm}
	m := NewMonitor(cfg, ev,
		WithSampler(SamplerFunc(func() (float64, error) { return cfg.MemoryEmergencyMB + cfg.MemoryEmergencyBuffer + 50, nil })),
		WithGC(func() {}),
		WithClock(clock.Now))
	t.Cleanup(m.Stop)

	assert.Equal(t, LevelEmergency, m.Check())
	assert.Equal(t, 2, ev.idle, "rooms past the emergency cutoff")
	assert.Equal(t, 1, ev.lowActivity, "quiet room inside the emergency cutoff")
	assert.Equal(t, 1, ev.largest, "active room")
	assert.Equal(t, 0, rm.RoomCount())
}

func TestEmergency_LowActivityStepBelowBuffer(t *testing.T) {
	cfg := config.DefaultConfig()
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	rm := newRoomManager(t, cfg, clock)
	createAged(t, rm, clock, 100*time.Second, 90*time.Second, 10*time.Second)

	ev := &stepCounter{RoomManager: rm}
	m := NewMonitor(cfg, ev,
		WithSampler(SamplerFunc(func() (float64, error) { return cfg.MemoryEmergencyMB + 10, nil })),
		WithGC(func() {}),
		WithClock(clock.Now))
	t.Cleanup(m.Stop)

	assert.Equal(t, LevelEmergency, m.Check())
	assert.Equal(t, 0, ev.idle)
	assert.Equal(t, 1, ev.lowActivity, "oldest of the two quiet rooms")
	assert.Equal(t, 0, ev.largest, "usage stayed under the buffer")
	assert.Equal(t, 2, rm.RoomCount())
}
