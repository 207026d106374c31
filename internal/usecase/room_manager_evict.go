package usecase

import (
	"math"
	"sort"
	"time"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/domain"
	"github.com/sirupsen/logrus"
)

// SweepResult summarizes one periodic sweep
type SweepResult struct {
	RoomsExpired    int
	LimiterPurged   int
	TokensPurged    int
	CreationSources int
}

// Sweep expires inactive rooms and prunes per-source tracking state
func (rm *RoomManager) Sweep() SweepResult {
	res := SweepResult{
		RoomsExpired:  rm.CleanupInactive(rm.cfg.InactivityTimeout),
		LimiterPurged: rm.limiter.Cleanup(),
		TokensPurged:  rm.tokens.Cleanup(),
	}

	rm.mu.Lock()
	for src, n := range rm.creations {
		if n <= 0 {
			delete(rm.creations, src)
		}
	}
	res.CreationSources = len(rm.creations)
	rm.mu.Unlock()

	rm.log.WithFields(logrus.Fields{
		"expired":        res.RoomsExpired,
		"limiter_purged": res.LimiterPurged,
		"tokens_purged":  res.TokensPurged,
	}).Debug("sweep complete")
	return res
}

// CleanupInactive destroys rooms idle for longer than maxIdle
func (rm *RoomManager) CleanupInactive(maxIdle time.Duration) int {
	n := rm.destroyWhere(ReasonInactive, func(r *domain.Room, now time.Time) bool {
		return r.IdleFor(now) > maxIdle
	})
	if n > 0 {
		rm.mu.Lock()
		rm.roomsExpired += uint64(n)
		rm.mu.Unlock()
		rm.log.WithFields(logrus.Fields{"rooms": n, "max_idle": maxIdle}).Info("inactive rooms expired")
	}
	return n
}

// EvictIdle destroys every empty room and every room idle for longer than
// maxIdle
func (rm *RoomManager) EvictIdle(maxIdle time.Duration) int {
	n := rm.destroyWhere(ReasonMemoryPressure, func(r *domain.Room, now time.Time) bool {
		return r.IsEmpty() || r.IdleFor(now) > maxIdle
	})
	rm.countEvicted(n, "idle")
	return n
}

// EvictLowActivity destroys the oldest fraction of rooms idle for at least
// minIdle
func (rm *RoomManager) EvictLowActivity(minIdle time.Duration, fraction float64) int {
	n := rm.destroyRanked(func(r *domain.Room, now time.Time) bool {
		return r.IdleFor(now) >= minIdle
	}, func(a, b *domain.Room) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	}, fraction)
	rm.countEvicted(n, "low_activity")
	return n
}

// EvictLargestActive destroys the fraction of rooms active within
// activeWithin that hold the largest backlogs
func (rm *RoomManager) EvictLargestActive(activeWithin time.Duration, fraction float64) int {
	n := rm.destroyRanked(func(r *domain.Room, now time.Time) bool {
		return r.IdleFor(now) < activeWithin
	}, func(a, b *domain.Room) bool {
		return a.MessageCount() > b.MessageCount()
	}, fraction)
	rm.countEvicted(n, "largest_active")
	return n
}

// TruncateMessages cuts every room holding more than minMessages down to
// keepRatio of its backlog, oldest first. Returns messages dropped.
func (rm *RoomManager) TruncateMessages(minMessages int, keepRatio float64) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	dropped := 0
	for _, room := range rm.rooms {
		count := room.MessageCount()
		if count <= minMessages {
			continue
		}
		keep := int(math.Floor(float64(count) * keepRatio))
		dropped += room.TruncateMessages(keep)
	}
	if dropped > 0 {
		rm.log.WithFields(logrus.Fields{"dropped": dropped, "keep_ratio": keepRatio}).Info("message history truncated")
	}
	return dropped
}

// RoomCount returns the number of live rooms
func (rm *RoomManager) RoomCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

func (rm *RoomManager) countEvicted(n int, strategy string) {
	if n == 0 {
		return
	}
	rm.mu.Lock()
	rm.roomsEvicted += uint64(n)
	rm.mu.Unlock()
	rm.log.WithFields(logrus.Fields{"rooms": n, "strategy": strategy}).Warn("rooms evicted")
}

// destroyWhere notifies the members of every room matching pred, then
// destroys those rooms
func (rm *RoomManager) destroyWhere(reason string, pred func(*domain.Room, time.Time) bool) int {
	rm.mu.RLock()
	now := rm.now()
	var picked []deletion
	for code, room := range rm.rooms {
		if pred(room, now) {
			picked = append(picked, deletion{code: code, members: room.UserIDs(), reason: reason})
		}
	}
	rm.mu.RUnlock()

	return rm.notifyThenDestroy(picked)
}

// notifyThenDestroy tells members their room is going away and only then
// removes it. Rooms already gone by the second phase are not counted.
func (rm *RoomManager) notifyThenDestroy(picked []deletion) int {
	if len(picked) == 0 {
		return 0
	}
	rm.notify(picked)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	n := 0
	for _, d := range picked {
		if _, ok := rm.rooms[d.code]; ok {
			rm.destroyLocked(d.code, d.reason)
			n++
		}
	}
	return n
}

// destroyRanked notifies and destroys ceil(fraction*candidates) of the rooms
// matching pred, taken in less order
func (rm *RoomManager) destroyRanked(pred func(*domain.Room, time.Time) bool, less func(a, b *domain.Room) bool, fraction float64) int {
	if fraction <= 0 {
		return 0
	}

	rm.mu.RLock()
	now := rm.now()
	var candidates []*domain.Room
	for _, room := range rm.rooms {
		if pred(room, now) {
			candidates = append(candidates, room)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if less(candidates[i], candidates[j]) {
			return true
		}
		if less(candidates[j], candidates[i]) {
			return false
		}
		return candidates[i].Code < candidates[j].Code
	})

	n := int(math.Ceil(float64(len(candidates)) * math.Min(fraction, 1)))
	picked := make([]deletion, 0, n)
	for _, room := range candidates[:n] {
		picked = append(picked, deletion{code: room.Code, members: room.UserIDs(), reason: ReasonMemoryPressure})
	}
	rm.mu.RUnlock()

	return rm.notifyThenDestroy(picked)
}

// Stats is the public aggregate view
type Stats struct {
	ActiveRooms   int    `json:"activeRooms"`
	ActiveUsers   int    `json:"activeUsers"`
	BufferedMsgs  int    `json:"bufferedMessages"`
	MaxRooms      int    `json:"maxRooms"`
	RoomsCreated  uint64 `json:"roomsCreated"`
	RoomsExpired  uint64 `json:"roomsExpired"`
	RoomsEvicted  uint64 `json:"roomsEvicted"`
	MessagesSent  uint64 `json:"messagesSent"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// RoomMetrics describes one room without identifying it
type RoomMetrics struct {
	Users       int     `json:"users"`
	Messages    int     `json:"messages"`
	AgeSeconds  float64 `json:"ageSeconds"`
	IdleSeconds float64 `json:"idleSeconds"`
}

// Metrics is the operator view returned by GetDetailedMetrics
type Metrics struct {
	Stats
	Rooms            []RoomMetrics `json:"rooms"`
	RateLimitEntries int           `json:"rateLimitEntries"`
	SessionTokens    int           `json:"sessionTokens"`
	CreationSources  int           `json:"creationSources"`
	PendingReleases  int           `json:"pendingReleases"`
	LargestBacklog   int           `json:"largestBacklog"`
	AverageRoomUsers float64       `json:"averageRoomUsers"`
}

// GetStats returns aggregate counters
func (rm *RoomManager) GetStats() Stats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.statsLocked()
}

func (rm *RoomManager) statsLocked() Stats {
	s := Stats{
		ActiveRooms:   len(rm.rooms),
		MaxRooms:      rm.cfg.MaxRooms,
		RoomsCreated:  rm.roomsCreated,
		RoomsExpired:  rm.roomsExpired,
		RoomsEvicted:  rm.roomsEvicted,
		MessagesSent:  rm.messagesSent,
		UptimeSeconds: int64(rm.now().Sub(rm.startedAt).Seconds()),
	}
	for _, room := range rm.rooms {
		s.ActiveUsers += room.UserCount()
		s.BufferedMsgs += room.MessageCount()
	}
	return s
}

// GetDetailedMetrics returns per-room figures and registry sizes. Room codes
// are omitted since they grant entry.
func (rm *RoomManager) GetDetailedMetrics() Metrics {
	rm.mu.RLock()
	now := rm.now()
	m := Metrics{
		Stats:           rm.statsLocked(),
		Rooms:           make([]RoomMetrics, 0, len(rm.rooms)),
		CreationSources: len(rm.creations),
		PendingReleases: len(rm.timers),
	}
	for _, room := range rm.rooms {
		rmx := RoomMetrics{
			Users:       room.UserCount(),
			Messages:    room.MessageCount(),
			AgeSeconds:  now.Sub(room.CreatedAt).Seconds(),
			IdleSeconds: room.IdleFor(now).Seconds(),
		}
		if rmx.Messages > m.LargestBacklog {
			m.LargestBacklog = rmx.Messages
		}
		m.Rooms = append(m.Rooms, rmx)
	}
	rm.mu.RUnlock()

	if m.ActiveRooms > 0 {
		m.AverageRoomUsers = float64(m.ActiveUsers) / float64(m.ActiveRooms)
	}
	sort.Slice(m.Rooms, func(i, j int) bool { return m.Rooms[i].Messages > m.Rooms[j].Messages })
	m.RateLimitEntries = rm.limiter.Len()
	m.SessionTokens = rm.tokens.Count()
	return m
}
