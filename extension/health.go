package extension

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultHealthSchedule   = "* * * * *"
	defaultHealthPoll       = 5 * time.Second
	defaultHealthProbeLimit = 10 * time.Second
	defaultFailureThreshold = 3
)

var healthCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// HealthEvent captures one sweep probe result.
type HealthEvent struct {
	ExtensionID  string
	Healthy      bool
	FailureCount int
	Failed       bool
	Error        error
}

// HealthSweeperConfig controls background health sweeping.
type HealthSweeperConfig struct {
	Registry *Registry
	// Schedule is a UTC cron expression selecting sweep times.
	Schedule string
	// PollInterval is how often the sweeper checks whether a sweep is due.
	PollInterval time.Duration
	// ProbeTimeout bounds each per-extension probe.
	ProbeTimeout time.Duration
	// FailureThreshold is how many consecutive probe failures move an
	// extension to the failed state.
	FailureThreshold int
	Now              func() time.Time
	OnEvent          func(event HealthEvent)
}

// HealthSweeper periodically probes ready extensions by listing their tools.
// An extension that fails the probe too many times in a row is failed so
// callers stop routing to a dead transport.
type HealthSweeper struct {
	registry         *Registry
	schedule         cron.Schedule
	pollInterval     time.Duration
	probeTimeout     time.Duration
	failureThreshold int
	now              func() time.Time
	onEvent          func(event HealthEvent)

	mu       sync.Mutex
	failures map[string]int
	nextRun  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHealthSweeper creates a sweeper. The schedule must be a UTC cron
// expression; timezone prefixes are rejected.
func NewHealthSweeper(cfg HealthSweeperConfig) (*HealthSweeper, error) {
	if cfg.Registry == nil {
		return nil, errors.New("extension: health sweeper registry is nil")
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = defaultHealthSchedule
	}
	upper := strings.ToUpper(cfg.Schedule)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, errors.New("extension: health schedule must be UTC-only")
	}
	schedule, err := healthCronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("extension: invalid health schedule: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultHealthPoll
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultHealthProbeLimit
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(HealthEvent) {}
	}

	return &HealthSweeper{
		registry:         cfg.Registry,
		schedule:         schedule,
		pollInterval:     cfg.PollInterval,
		probeTimeout:     cfg.ProbeTimeout,
		failureThreshold: cfg.FailureThreshold,
		now:              cfg.Now,
		onEvent:          cfg.OnEvent,
		failures:         make(map[string]int),
	}, nil
}

// Start begins sweeper execution. Repeat calls are no-ops.
func (s *HealthSweeper) Start() error {
	if s == nil {
		return errors.New("extension: health sweeper is nil")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.nextRun = s.schedule.Next(s.now().UTC())
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if s.due() {
					s.RunOnce(loopCtx)
				}
			}
		}
	}()

	return nil
}

// Stop terminates sweeper execution.
func (s *HealthSweeper) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *HealthSweeper) due() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if now.Before(s.nextRun) {
		return false
	}
	s.nextRun = s.schedule.Next(now)
	return true
}

// RunOnce probes every ready extension once.
func (s *HealthSweeper) RunOnce(ctx context.Context) {
	for _, handle := range s.registry.List() {
		if handle.State() != StateReady {
			continue
		}
		s.probe(ctx, handle)
	}
}

func (s *HealthSweeper) probe(ctx context.Context, handle *Handle) {
	adapter, err := handle.Adapter()
	if err != nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	start := time.Now()
	_, probeErr := adapter.ListTools(probeCtx)
	durationMS := elapsedMS(start)

	id := handle.Extension().ID
	s.mu.Lock()
	if probeErr == nil {
		s.failures[id] = 0
	} else {
		s.failures[id]++
	}
	count := s.failures[id]
	s.mu.Unlock()

	failed := probeErr != nil && count >= s.failureThreshold
	if failed {
		failedAdapter := handle.Fail(newError(ErrorCodeTransportFailure, fmt.Sprintf("extension %s failed %d consecutive health probes", id, count), false, probeErr))
		if failedAdapter != nil {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = failedAdapter.Close(closeCtx)
			closeCancel()
		}
	}

	emitHealthObservation(HealthObservation{
		ExtensionID:  id,
		Kind:         handle.Extension().Kind,
		Healthy:      probeErr == nil,
		FailureCount: count,
		DurationMS:   durationMS,
		ErrorCode:    ErrorCode(probeErr),
	})
	s.onEvent(HealthEvent{
		ExtensionID:  id,
		Healthy:      probeErr == nil,
		FailureCount: count,
		Failed:       failed,
		Error:        probeErr,
	})
}
