package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvery_RunsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	task := Every("tick", 5*time.Millisecond, func() {
		runs.Add(1)
	})

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	task.Stop()
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
	assert.Equal(t, "tick", task.Name())
}

func TestTask_StopIdempotent(t *testing.T) {
	task := Every("noop", time.Hour, func() {})
	task.Stop()
	task.Stop()
}

func TestGroup_StopAll(t *testing.T) {
	var g Group
	var a, b atomic.Int32
	g.Every("a", 5*time.Millisecond, func() { a.Add(1) })
	g.Every("b", 5*time.Millisecond, func() { b.Add(1) })
	assert.Equal(t, 2, g.Len())

	assert.Eventually(t, func() bool { return a.Load() > 0 && b.Load() > 0 }, time.Second, time.Millisecond)

	g.StopAll()
	assert.Equal(t, 0, g.Len())

	ra, rb := a.Load(), b.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ra, a.Load())
	assert.Equal(t, rb, b.Load())
}
