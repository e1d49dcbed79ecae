package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Runner drives periodic and on-demand sync cycles from a single
// background goroutine. Results travel back over a channel; there is no
// shared mutable flag to poll.
type Runner struct {
	manager  *Manager
	interval time.Duration
	triggers chan Trigger
	results  chan *Summary
	done     chan struct{}
}

// NewRunner creates a runner firing a timer cycle every interval.
func NewRunner(m *Manager, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Runner{
		manager:  m,
		interval: interval,
		triggers: make(chan Trigger, 8),
		results:  make(chan *Summary, 8),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop: one startup cycle, then timer
// cycles and explicit triggers until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Trigger requests an extra cycle. Non-blocking; when the queue is full
// the request is dropped because a cycle is imminent anyway.
func (r *Runner) Trigger(t Trigger) {
	select {
	case r.triggers <- t:
	default:
	}
}

// Results returns the channel of cycle summaries.
func (r *Runner) Results() <-chan *Summary { return r.results }

// Done is closed once the loop has exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	r.run(ctx, TriggerStartup)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.run(ctx, TriggerTimer)
		case t := <-r.triggers:
			r.run(ctx, t)
		}
	}
}

func (r *Runner) run(ctx context.Context, trigger Trigger) {
	sum, err := r.manager.SyncNow(ctx, trigger)
	if err != nil {
		switch {
		case errors.Is(err, ErrSyncRunning):
			slog.Debug("sync cycle skipped, one already running", "trigger", trigger)
		case errors.Is(err, context.Canceled):
		default:
			slog.Error("sync cycle failed", "trigger", trigger, "error", err)
		}
		if sum == nil {
			return
		}
	}

	select {
	case r.results <- sum:
	default:
	}
}
