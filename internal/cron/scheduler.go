// Package cron implements the scheduler primitive the core exposes to
// plugins and to MOTOR's own SCHEDULE intent handling (spec.md §6, §4.11).
// Grounded on the teacher's internal/cron/scheduler.go (cron-expression
// parsing via robfig/cron/v3, tick-and-fire loop against a store),
// generalized from "query a persistence store for due schedules" to an
// in-process, in-memory schedule table that optionally records each
// entry's next fire time in a Storage port. Those records are not read
// back, so the table starts empty after a restart.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/pulseagent/internal/ports"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow), matching the teacher's own parser configuration.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// NextRunTime parses a cron expression and returns the next fire time
// strictly after `after`, in after's location (so DST transitions are
// handled by time.Location the way spec.md §9 requires: "all scheduling in
// UTC with an explicit timezone parameter for recurrence").
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(after), nil
}

// entry is one scheduled fire, one-shot or recurring.
type entry struct {
	id       string
	fireAt   time.Time
	rec      *ports.Recurrence
	timezone string
	data     map[string]any
}

// FireFunc is invoked when a schedule comes due; the caller supplies this
// to re-emit a plugin_event signal onto the bus (spec.md §4.11's MOTOR
// SCHEDULE discipline: "the scheduler re-emits a plugin_event signal at
// firing time").
type FireFunc func(id string, data map[string]any, firedAt time.Time)

// Scheduler implements ports.SchedulerPrimitive against an in-memory
// schedule table, polled at Interval. A non-nil Storage also receives each
// entry's next fire time (RFC 3339) under the "cron" namespace, keyed by
// entry id; nothing reads those records back, so schedules do not survive
// a process restart either way.
type Scheduler struct {
	mu       sync.Mutex
	entries  map[string]*entry
	storage  ports.Storage
	logger   *slog.Logger
	interval time.Duration
	onFire   FireFunc
	nextSeq  uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config tunes the scheduler.
type Config struct {
	Storage  ports.Storage // optional; receives each entry's next fire time, not read back at startup
	Logger   *slog.Logger
	Interval time.Duration // poll interval; defaults to 1 minute
	OnFire   FireFunc
}

// New builds a Scheduler.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		entries:  make(map[string]*entry),
		storage:  cfg.Storage,
		logger:   logger,
		interval: interval,
		onFire:   cfg.OnFire,
	}
}

// Start begins the polling loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	var due []*entry
	s.mu.Lock()
	for _, e := range s.entries {
		if !e.fireAt.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].fireAt.Before(due[j].fireAt) })
	for _, e := range due {
		s.fire(e, now)
	}
}

func (s *Scheduler) fire(e *entry, now time.Time) {
	if s.onFire != nil {
		s.onFire(e.id, e.data, now)
	}

	if e.rec == nil {
		s.mu.Lock()
		delete(s.entries, e.id)
		s.mu.Unlock()
		if s.storage != nil {
			_ = s.storage.Delete(context.Background(), "cron", e.id)
		}
		return
	}

	loc := time.UTC
	if e.timezone != "" {
		if l, err := time.LoadLocation(e.timezone); err == nil {
			loc = l
		} else {
			s.logger.Warn("cron: unknown timezone, defaulting to UTC", "timezone", e.timezone, "error", err)
		}
	}
	next, err := NextRunTime(e.rec.Spec, now.In(loc))
	if err != nil {
		s.logger.Error("cron: failed to compute next run, dropping schedule", "id", e.id, "spec", e.rec.Spec, "error", err)
		s.mu.Lock()
		delete(s.entries, e.id)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	e.fireAt = next
	s.mu.Unlock()
	s.persist(e)
	s.logger.Info("cron: schedule fired", "id", e.id, "next_run_at", next)
}

// Schedule implements ports.SchedulerPrimitive.
func (s *Scheduler) Schedule(ctx context.Context, req ports.ScheduleRequest) (string, error) {
	if req.Recurrence != nil && req.Recurrence.Spec != "" {
		if _, err := cronParser.Parse(req.Recurrence.Spec); err != nil {
			return "", fmt.Errorf("invalid recurrence %q: %w", req.Recurrence.Spec, err)
		}
	}

	s.mu.Lock()
	s.nextSeq++
	id := fmt.Sprintf("sched-%d-%d", time.Now().UnixNano(), s.nextSeq)
	e := &entry{id: id, fireAt: req.FireAt, rec: req.Recurrence, timezone: req.Timezone, data: req.Data}
	s.entries[id] = e
	s.mu.Unlock()

	s.persist(e)
	return id, nil
}

// Cancel implements ports.SchedulerPrimitive.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if ok && s.storage != nil {
		_ = s.storage.Delete(ctx, "cron", id)
	}
	return ok, nil
}

// GetSchedules implements ports.SchedulerPrimitive.
func (s *Scheduler) GetSchedules(ctx context.Context) ([]ports.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.ScheduleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, ports.ScheduleEntry{ID: e.id, FireAt: e.fireAt, Recurrence: e.rec, Data: e.data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (s *Scheduler) persist(e *entry) {
	if s.storage == nil {
		return
	}
	// Reference adapters JSON-encode ScheduleEntry; kept minimal here since
	// the exact encoding is an adapter concern, not this port's contract.
	_ = s.storage.Set(context.Background(), "cron", e.id, []byte(e.fireAt.Format(time.RFC3339)))
}
