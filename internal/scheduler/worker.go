// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler runs import cycles on a fixed interval with at most one
// cycle in flight. Manual triggers share the same guard.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casalead/ingestion/internal/ingest"
)

// ErrAlreadyRunning is returned by triggers that find a cycle in progress.
var ErrAlreadyRunning = errors.New("previous cycle still running")

// errLockHeld means another instance holds the distributed lock.
var errLockHeld = errors.New("import lock held by another instance")

const (
	DefaultInterval     = 30 * time.Minute
	DefaultInitialDelay = 30 * time.Second
)

// CycleRunner executes one import cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*ingest.CycleResult, error)
}

// Locker is an optional cross-instance lock.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// Config tunes the worker timing.
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
	// Lock, when set, must be acquired before each cycle.
	Lock Locker
}

// Status is the operator view of the worker.
type Status struct {
	IsRunning  bool       `json:"isRunning"`
	IntervalMs int64      `json:"intervalMs"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

// Worker is the Idle/Running state machine around a CycleRunner.
type Worker struct {
	runner CycleRunner
	cfg    Config

	running atomic.Bool

	mu         sync.Mutex
	lastRunAt  *time.Time
	lastErr    error
	lastResult *ingest.CycleResult

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates an idle worker.
func NewWorker(runner CycleRunner, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	return &Worker{runner: runner, cfg: cfg}
}

// Start launches the timer loop: one cycle after the initial delay, then
// one per interval measured from that first start.
func (w *Worker) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		delay := time.NewTimer(w.cfg.InitialDelay)
		defer delay.Stop()

		select {
		case <-loopCtx.Done():
			return
		case <-delay.C:
		}

		// Ticks keep a fixed cadence; one that fires while a cycle is still
		// running is dropped by the ticker or by the running flag.
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		w.scheduled(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				w.scheduled(loopCtx)
			}
		}
	}()

	slog.Info("import worker started",
		"interval", w.cfg.Interval,
		"initial_delay", w.cfg.InitialDelay,
	)
}

func (w *Worker) scheduled(ctx context.Context) {
	if err := w.run(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, errLockHeld) {
		slog.Error("scheduled import cycle failed", "error", err)
	}
}

// Stop clears the timer and waits for an in-flight cycle to finish; the
// cycle itself is not interrupted.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	slog.Info("import worker stopped")
}

// Trigger runs one cycle now and waits for it. It returns ErrAlreadyRunning
// without doing anything when a cycle is in flight.
func (w *Worker) Trigger(ctx context.Context) error {
	return w.run(ctx)
}

// TriggerAsync starts one cycle in the background.
func (w *Worker) TriggerAsync(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		slog.Info("previous cycle still running, skipping", "trigger", "manual")
		return ErrAlreadyRunning
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.execute(ctx); err != nil && !errors.Is(err, errLockHeld) {
			slog.Error("manual import cycle failed", "error", err)
		}
	}()
	return nil
}

// Status reports whether a cycle is running and the configured interval.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Status{
		IsRunning:  w.running.Load(),
		IntervalMs: w.cfg.Interval.Milliseconds(),
		LastRunAt:  w.lastRunAt,
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}

// LastResult returns the summary of the last completed cycle, if any.
func (w *Worker) LastResult() *ingest.CycleResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastResult
}

func (w *Worker) run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		slog.Info("previous cycle still running, skipping")
		return ErrAlreadyRunning
	}
	return w.execute(ctx)
}

// execute runs a cycle while holding the running flag and clears it after.
// Cancelling ctx does not interrupt the cycle.
func (w *Worker) execute(ctx context.Context) (err error) {
	defer w.running.Store(false)

	cycleCtx := context.WithoutCancel(ctx)

	if w.cfg.Lock != nil {
		release, ok, lockErr := w.cfg.Lock.Acquire(cycleCtx)
		if lockErr != nil {
			w.finish(nil, lockErr)
			return lockErr
		}
		if !ok {
			slog.Info("import lock held by another instance, skipping")
			return errLockHeld
		}
		defer func() {
			if relErr := release(cycleCtx); relErr != nil {
				slog.Warn("failed to release import lock", "error", relErr)
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("import cycle panicked", "panic", r)
			err = errors.New("import cycle panicked")
			w.finish(nil, err)
		}
	}()

	result, err := w.runner.RunCycle(cycleCtx)
	w.finish(result, err)
	return err
}

func (w *Worker) finish(result *ingest.CycleResult, err error) {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastRunAt = &now
	w.lastErr = err
	if result != nil {
		w.lastResult = result
	}
}
