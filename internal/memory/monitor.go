// Package memory watches process memory and sheds room state as pressure
// rises. Pressure is classified into four levels; each level has an action
// that is run on every sample taken at that level.
package memory

import (
	"runtime"
	"sync"
	"time"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/config"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/logger"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// Level is a memory pressure tier
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	}
	return "unknown"
}

// Sampler reports current memory usage in megabytes
type Sampler interface {
	SampleMB() (float64, error)
}

// SamplerFunc adapts a function to Sampler
type SamplerFunc func() (float64, error)

func (f SamplerFunc) SampleMB() (float64, error) { return f() }

// RuntimeSampler reads the Go heap in use
type RuntimeSampler struct{}

func (RuntimeSampler) SampleMB() (float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1 << 20), nil
}

// Evictor is the set of room-shedding primitives the monitor drives
type Evictor interface {
	CleanupInactive(maxIdle time.Duration) int
	TruncateMessages(minMessages int, keepRatio float64) int
	EvictIdle(maxIdle time.Duration) int
	EvictLowActivity(minIdle time.Duration, fraction float64) int
	EvictLargestActive(activeWithin time.Duration, fraction float64) int
	RoomCount() int
}

// Thresholds are the entry points of each tier, in MB
type Thresholds struct {
	WarningMB    float64
	CriticalMB   float64
	EmergencyMB  float64
	HysteresisMB float64
}

func (t Thresholds) entry(l Level) float64 {
	switch l {
	case LevelWarning:
		return t.WarningMB
	case LevelCritical:
		return t.CriticalMB
	case LevelEmergency:
		return t.EmergencyMB
	}
	return 0
}

// Classify returns the tier for usage given the current tier. The highest
// threshold reached wins and is entered at once; a tier is only left once
// usage falls HysteresisMB below its entry point.
func (t Thresholds) Classify(current Level, usage float64) Level {
	reached := LevelNormal
	switch {
	case usage >= t.EmergencyMB:
		reached = LevelEmergency
	case usage >= t.CriticalMB:
		reached = LevelCritical
	case usage >= t.WarningMB:
		reached = LevelWarning
	}
	if reached >= current {
		return reached
	}

	lvl := current
	for lvl > reached && usage < t.entry(lvl)-t.HysteresisMB {
		lvl--
	}
	return lvl
}

// Status is a snapshot of the monitor
type Status struct {
	Level           string    `json:"level"`
	UsageMB         float64   `json:"usageMb"`
	SampledAt       time.Time `json:"sampledAt"`
	Transitions     uint64    `json:"transitions"`
	RoomsEvicted    uint64    `json:"roomsEvicted"`
	MessagesDropped uint64    `json:"messagesDropped"`
	SampleFailures  uint64    `json:"sampleFailures"`
	WarningMB       float64   `json:"warningMb"`
	CriticalMB      float64   `json:"criticalMb"`
	EmergencyMB     float64   `json:"emergencyMb"`
}

// Monitor samples memory on an interval and applies the action of the
// resulting tier
type Monitor struct {
	cfg        *config.Config
	thresholds Thresholds
	sampler    Sampler
	evictor    Evictor
	log        logrus.FieldLogger
	gc         func()
	now        func() time.Time

	checkMu sync.Mutex // one check at a time

	mu              sync.Mutex
	level           Level
	usage           float64
	sampledAt       time.Time
	transitions     uint64
	roomsEvicted    uint64
	messagesDropped uint64
	sampleFailures  uint64
	recheck         *time.Timer
	task            *scheduler.Task
	stopped         bool
}

// Option customizes a Monitor
type Option func(*Monitor)

// WithSampler replaces the runtime sampler
func WithSampler(s Sampler) Option {
	return func(m *Monitor) {
		m.sampler = s
	}
}

// WithLogger sets the logging sink
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Monitor) {
		m.log = logger.OrNop(l)
	}
}

// WithGC replaces the collector invoked between emergency steps
func WithGC(gc func()) Option {
	return func(m *Monitor) {
		m.gc = gc
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// NewMonitor creates a monitor driving evictor
func NewMonitor(cfg *config.Config, evictor Evictor, opts ...Option) *Monitor {
	m := &Monitor{
		cfg: cfg,
		thresholds: Thresholds{
			WarningMB:    cfg.MemoryWarningMB,
			CriticalMB:   cfg.MemoryCriticalMB,
			EmergencyMB:  cfg.MemoryEmergencyMB,
			HysteresisMB: cfg.MemoryHysteresisMB,
		},
		sampler: RuntimeSampler{},
		evictor: evictor,
		log:     logger.Nop(),
		gc:      runtime.GC,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("component", "memory")
	return m
}

// Start begins periodic sampling
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task != nil || m.stopped {
		return
	}
	m.task = scheduler.Every("memory-monitor", m.cfg.MemorySampleInterval, func() {
		m.Check()
	})
}

// Stop halts sampling and cancels any pending re-check
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	task := m.task
	m.task = nil
	if m.recheck != nil {
		m.recheck.Stop()
		m.recheck = nil
	}
	m.mu.Unlock()

	if task != nil {
		task.Stop()
	}
}

// Level returns the current tier
func (m *Monitor) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Status returns a snapshot for metrics
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Level:           m.level.String(),
		UsageMB:         m.usage,
		SampledAt:       m.sampledAt,
		Transitions:     m.transitions,
		RoomsEvicted:    m.roomsEvicted,
		MessagesDropped: m.messagesDropped,
		SampleFailures:  m.sampleFailures,
		WarningMB:       m.thresholds.WarningMB,
		CriticalMB:      m.thresholds.CriticalMB,
		EmergencyMB:     m.thresholds.EmergencyMB,
	}
}

// Check takes one sample, updates the tier and runs its action. A failed
// sample leaves everything unchanged.
func (m *Monitor) Check() Level {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	usage, err := m.sampler.SampleMB()

	m.mu.Lock()
	if err != nil {
		m.sampleFailures++
		lvl := m.level
		m.mu.Unlock()
		m.log.WithError(err).Warn("memory sample failed")
		return lvl
	}
	prev := m.level
	next := m.thresholds.Classify(prev, usage)
	m.level = next
	m.usage = usage
	m.sampledAt = m.now()
	if next != prev {
		m.transitions++
	}
	m.mu.Unlock()

	if next != prev {
		entry := m.log.WithFields(logrus.Fields{"from": prev.String(), "level": next.String(), "usage_mb": usage})
		if next > prev {
			entry.Warn("memory pressure rising")
		} else {
			entry.Info("memory pressure easing")
		}
	}

	switch next {
	case LevelNormal:
		m.record(m.evictor.CleanupInactive(m.cfg.InactivityTimeout), 0)
	case LevelWarning:
		m.handleWarning()
	case LevelCritical:
		m.handleCritical()
	case LevelEmergency:
		m.handleEmergency(usage)
	}
	return next
}

func (m *Monitor) handleWarning() {
	rooms := m.evictor.CleanupInactive(m.cfg.WarningInactivityTimeout)
	dropped := m.evictor.TruncateMessages(m.cfg.LargeRoomMessages, 0.75)
	m.record(rooms, dropped)
}

func (m *Monitor) handleCritical() {
	rooms := m.evictor.CleanupInactive(m.cfg.CriticalInactivityTimeout)
	dropped := m.evictor.TruncateMessages(0, 0.5)
	m.record(rooms, dropped)
}

// step is one emergency eviction strategy. It runs only while usage is at or
// above floor.
type step struct {
	name  string
	floor float64
	run   func() (rooms, dropped int)
}

func (m *Monitor) emergencySteps() []step {
	t := m.thresholds
	return []step{
		{"purge_idle", 0, func() (int, int) {
			return m.evictor.EvictIdle(m.cfg.EmergencyInactivityTimeout), 0
		}},
		{"evict_low_activity", t.EmergencyMB, func() (int, int) {
			return m.evictor.EvictLowActivity(m.cfg.LowActivityAge, 0.5), 0
		}},
		{"evict_largest_active", t.EmergencyMB + m.cfg.MemoryEmergencyBuffer, func() (int, int) {
			return m.evictor.EvictLargestActive(m.cfg.LowActivityAge, 0.25), 0
		}},
		{"truncate_all", 0, func() (int, int) {
			return 0, m.evictor.TruncateMessages(0, 0.25)
		}},
	}
}

func (m *Monitor) handleEmergency(usage float64) {
	for i, s := range m.emergencySteps() {
		if i > 0 && s.floor > 0 {
			usage = m.resample(usage)
			if usage < s.floor {
				m.log.WithFields(logrus.Fields{"step": s.name, "usage_mb": usage}).Debug("emergency step skipped")
				continue
			}
		}
		rooms, dropped := s.run()
		m.record(rooms, dropped)
		m.log.WithFields(logrus.Fields{
			"step":     s.name,
			"rooms":    rooms,
			"dropped":  dropped,
			"usage_mb": usage,
		}).Warn("emergency eviction")
	}
	m.log.WithField("rooms_left", m.evictor.RoomCount()).Warn("emergency pass complete")
	m.scheduleRecheck()
}

// resample collects garbage and reads usage again, keeping prev if the read
// fails
func (m *Monitor) resample(prev float64) float64 {
	m.gc()
	usage, err := m.sampler.SampleMB()
	if err != nil {
		return prev
	}
	return usage
}

func (m *Monitor) scheduleRecheck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.recheck != nil {
		return
	}
	m.recheck = time.AfterFunc(m.cfg.EmergencyRecheckDelay, func() {
		m.mu.Lock()
		m.recheck = nil
		stopped := m.stopped
		m.mu.Unlock()
		if !stopped {
			m.Check()
		}
	})
}

func (m *Monitor) record(rooms, dropped int) {
	if rooms == 0 && dropped == 0 {
		return
	}
	m.mu.Lock()
	m.roomsEvicted += uint64(rooms)
	m.messagesDropped += uint64(dropped)
	m.mu.Unlock()
}
