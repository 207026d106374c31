// Package scheduler runs periodic background work as individually stoppable
// tasks.
package scheduler

import (
	"sync"
	"time"
)

// Task runs fn every interval until stopped
type Task struct {
	name     string
	interval time.Duration
	fn       func()

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Every starts a task. fn is never run concurrently with itself.
func Every(name string, interval time.Duration, fn func()) *Task {
	if interval <= 0 {
		interval = time.Minute
	}
	t := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *Task) loop() {
	ticker := time.NewTicker(t.interval)
	defer func() {
		ticker.Stop()
		close(t.done)
	}()

	for {
		select {
		case <-ticker.C:
			t.fn()
		case <-t.stop:
			return
		}
	}
}

// Name returns the task name
func (t *Task) Name() string {
	return t.name
}

// Stop halts the task and waits for an in-flight run to finish. Safe to
// call more than once.
func (t *Task) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	<-t.done
}

// Group owns a set of tasks that stop together
type Group struct {
	mu    sync.Mutex
	tasks []*Task
}

// Every starts a task owned by the group
func (g *Group) Every(name string, interval time.Duration, fn func()) *Task {
	t := Every(name, interval, fn)
	g.mu.Lock()
	g.tasks = append(g.tasks, t)
	g.mu.Unlock()
	return t
}

// Len returns the number of running tasks
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// StopAll stops every task in the group
func (g *Group) StopAll() {
	g.mu.Lock()
	tasks := g.tasks
	g.tasks = nil
	g.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
}
