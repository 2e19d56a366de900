package policy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcturusdc/orbit/models"
	"go.uber.org/zap"
)

// Config holds configuration for the Hook
type Config struct {
	Workers      int           // Number of concurrent workers
	BufferSize   int           // Size of the task channel
	MaxRetries   int           // Retries per failing rule after the first attempt
	RetryBackoff time.Duration // Multiplied by the attempt number before each retry
	TaskTimeout  time.Duration // Upper bound for evaluating one event
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		BufferSize:   1000,
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
		TaskTimeout:  10 * time.Second,
	}
}

// Hook evaluates rules against appended events on a background worker pool
type Hook struct {
	rules  []Rule
	sinks  []Sink
	config Config
	logger *zap.Logger

	tasks   chan *models.Event
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	stopped bool

	dropped   atomic.Int64
	processed atomic.Int64
	raised    atomic.Int64
	failed    atomic.Int64
}

// NewHook creates a new Hook. Call Start before submitting events.
func NewHook(rules []Rule, sinks []Sink, config Config, logger *zap.Logger) *Hook {
	defaults := DefaultConfig()
	if config.Workers < 1 {
		config.Workers = defaults.Workers
	}
	if config.BufferSize < 1 {
		config.BufferSize = defaults.BufferSize
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = defaults.TaskTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hook{
		rules:  rules,
		sinks:  sinks,
		config: config,
		logger: logger,
		tasks:  make(chan *models.Event, config.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the background workers
func (h *Hook) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("policy hook already started")
	}

	for i := 0; i < h.config.Workers; i++ {
		h.wg.Add(1)
		go h.worker(i)
	}

	h.started = true
	h.logger.Info("started policy hook",
		zap.Int("worker_count", h.config.Workers),
		zap.Int("buffer_size", h.config.BufferSize),
		zap.Int("rule_count", len(h.rules)),
		zap.Int("sink_count", len(h.sinks)))

	return nil
}

// Stop stops accepting events and waits for queued ones to drain.
// In-flight retries are abandoned once the timeout passes.
func (h *Hook) Stop(timeout time.Duration) error {
	h.mu.Lock()
	if !h.started || h.stopped {
		h.mu.Unlock()
		return fmt.Errorf("policy hook not running")
	}
	h.stopped = true
	close(h.tasks)
	h.mu.Unlock()

	h.logger.Info("stopping policy hook", zap.Int("pending_events", len(h.tasks)))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("policy hook stopped gracefully")
		h.cancel()
		return nil
	case <-time.After(timeout):
		h.cancel()
		return fmt.Errorf("policy hook stop timeout after %v", timeout)
	}
}

// Submit queues an event for evaluation without blocking. It reports false when
// the hook is not running or the buffer is full; the event is then dropped.
func (h *Hook) Submit(event *models.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.stopped {
		h.dropped.Add(1)
		return false
	}

	select {
	case h.tasks <- event:
		return true
	default:
		h.dropped.Add(1)
		h.logger.Warn("policy task channel full, dropping event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.EventType)),
			zap.String("org_id", event.OrgID))
		return false
	}
}

func (h *Hook) worker(id int) {
	defer h.wg.Done()

	h.logger.Debug("policy worker started", zap.Int("worker_id", id))

	for event := range h.tasks {
		h.process(event)
	}

	h.logger.Debug("policy worker stopped", zap.Int("worker_id", id))
}

// process runs every rule independently so one failing rule cannot hide another's alert
func (h *Hook) process(event *models.Event) {
	ctx, cancel := context.WithTimeout(h.ctx, h.config.TaskTimeout)
	defer cancel()
	defer h.processed.Add(1)

	for _, rule := range h.rules {
		alert, err := h.evaluate(ctx, rule, event)
		if err != nil {
			h.failed.Add(1)
			h.logger.Error("policy rule failed, discarding",
				zap.String("rule", rule.Name()),
				zap.String("event_id", event.EventID),
				zap.String("org_id", event.OrgID),
				zap.Int("max_retries", h.config.MaxRetries),
				zap.Error(err))
			continue
		}
		if alert == nil {
			continue
		}

		h.raised.Add(1)
		h.publish(ctx, alert)
	}
}

func (h *Hook) evaluate(ctx context.Context, rule Rule, event *models.Event) (*models.Alert, error) {
	var lastErr error
	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * h.config.RetryBackoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("retry abandoned: %w (last error: %v)", ctx.Err(), lastErr)
			}
		}

		alert, err := rule.Evaluate(ctx, event)
		if err == nil {
			return alert, nil
		}
		lastErr = err
		h.logger.Debug("policy rule attempt failed",
			zap.String("rule", rule.Name()),
			zap.String("event_id", event.EventID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func (h *Hook) publish(ctx context.Context, alert *models.Alert) {
	for _, sink := range h.sinks {
		if err := sink.Publish(ctx, alert); err != nil {
			h.logger.Error("failed to publish alert",
				zap.String("sink", sink.Name()),
				zap.String("rule", alert.Rule),
				zap.String("event_id", alert.EventID),
				zap.Error(err))
		}
	}
}

// Stats returns statistics about the hook
func (h *Hook) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Stats{
		BufferSize:     h.config.BufferSize,
		PendingEvents:  len(h.tasks),
		WorkerCount:    h.config.Workers,
		Started:        h.started && !h.stopped,
		Dropped:        h.dropped.Load(),
		Processed:      h.processed.Load(),
		AlertsRaised:   h.raised.Load(),
		RulesDiscarded: h.failed.Load(),
	}
}

// Stats represents policy hook statistics
type Stats struct {
	BufferSize     int   `json:"bufferSize"`
	PendingEvents  int   `json:"pendingEvents"`
	WorkerCount    int   `json:"workerCount"`
	Started        bool  `json:"started"`
	Dropped        int64 `json:"dropped"`
	Processed      int64 `json:"processed"`
	AlertsRaised   int64 `json:"alertsRaised"`
	RulesDiscarded int64 `json:"rulesDiscarded"`
}
