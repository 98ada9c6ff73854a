// Package connwatch tracks whether the model providers Think talks to
// are reachable.
//
// Each watched provider is probed on its own schedule. While a provider
// is healthy it is polled every PollInterval; after a failure it is
// retried with exponential backoff (2s, 4s, 8s, ... capped at 60s) until
// it answers again. The agent never waits on a watcher: runs still go
// straight to the provider, and the status only feeds /health and the
// logs.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Schedule controls probe timing. Zero fields take the values from
// [DefaultSchedule].
type Schedule struct {
	// InitialDelay is the first retry delay after a failed probe.
	InitialDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// Multiplier grows the delay after each consecutive failure.
	Multiplier float64
	// PollInterval separates probes while the provider is healthy.
	PollInterval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

// DefaultSchedule returns the production schedule.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.InitialDelay <= 0 {
		s.InitialDelay = d.InitialDelay
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = d.MaxDelay
	}
	if s.Multiplier < 1 {
		s.Multiplier = d.Multiplier
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	return s
}

// backoff returns the delay that follows delay.
func (s Schedule) backoff(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * s.Multiplier)
	if next > s.MaxDelay {
		return s.MaxDelay
	}
	return next
}

// Status is the health of one watched provider, suitable for JSON
// serialization in health endpoints.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	// Failures counts consecutive failed probes.
	Failures int `json:"failures,omitempty"`
}

type target struct {
	name  string
	probe ProbeFunc

	mu     sync.Mutex
	status Status
}

func (t *target) snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Monitor watches a set of providers. Register them with [Monitor.Watch]
// before calling [Monitor.Run].
type Monitor struct {
	schedule Schedule
	logger   *slog.Logger
	onChange func(name string, ready bool, err error)

	mu      sync.RWMutex
	targets map[string]*target
}

// NewMonitor creates a monitor using schedule.
func NewMonitor(logger *slog.Logger, schedule Schedule) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		schedule: schedule.withDefaults(),
		logger:   logger.With("component", "connwatch"),
		targets:  make(map[string]*target),
	}
}

// Watch registers a provider. Registering a name twice replaces the
// earlier probe.
//
// Panics if name is empty or probe is nil; those are programming errors.
func (m *Monitor) Watch(name string, probe ProbeFunc) {
	if name == "" {
		panic("connwatch: name must not be empty")
	}
	if probe == nil {
		panic("connwatch: probe must not be nil")
	}
	m.mu.Lock()
	m.targets[name] = &target{name: name, probe: probe, status: Status{Name: name}}
	m.mu.Unlock()
}

// OnChange sets a callback for readiness transitions, including the
// first probe result. It runs on the watching goroutine and must not
// block.
func (m *Monitor) OnChange(fn func(name string, ready bool, err error)) {
	m.onChange = fn
}

// Run probes every registered provider until ctx is cancelled. It
// always returns nil, so it can run under an errgroup alongside the
// server.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.RLock()
	targets := make([]*target, 0, len(m.targets))
	for _, t := range m.targets {
		targets = append(targets, t)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			m.watch(ctx, t)
			return nil
		})
	}
	return g.Wait()
}

func (m *Monitor) watch(ctx context.Context, t *target) {
	delay := m.schedule.InitialDelay
	for {
		probeCtx, cancel := context.WithTimeout(ctx, m.schedule.ProbeTimeout)
		err := t.probe(probeCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		m.record(t, err)

		wait := m.schedule.PollInterval
		if err != nil {
			wait = delay
			delay = m.schedule.backoff(delay)
		} else {
			delay = m.schedule.InitialDelay
		}
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// record stores a probe result and reports transitions.
func (m *Monitor) record(t *target, err error) {
	t.mu.Lock()
	first := t.status.LastCheck.IsZero()
	wasReady := t.status.Ready
	t.status.LastCheck = time.Now()
	t.status.Ready = err == nil
	if err != nil {
		t.status.LastError = err.Error()
		t.status.Failures++
	} else {
		t.status.LastError = ""
		t.status.Failures = 0
	}
	failures := t.status.Failures
	t.mu.Unlock()

	changed := first || wasReady != (err == nil)
	switch {
	case err == nil && changed:
		m.logger.Info("provider reachable", "provider", t.name)
	case err != nil && changed:
		m.logger.Warn("provider unreachable", "provider", t.name, "error", err)
	case err != nil:
		m.logger.Debug("provider still unreachable", "provider", t.name, "failures", failures, "error", err)
	}
	if changed && m.onChange != nil {
		m.onChange(t.name, err == nil, err)
	}
}

// Status returns the health of every watched provider, by name.
func (m *Monitor) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.targets))
	for name, t := range m.targets {
		out[name] = t.snapshot()
	}
	return out
}

// Ready reports whether every watched provider answered its latest
// probe. A monitor with nothing to watch is ready.
func (m *Monitor) Ready() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Names returns the watched provider names in order.
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.targets))
	for name := range m.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
