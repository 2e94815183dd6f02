package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/job"
)

// Enqueuer submits scheduled jobs. *engine.Engine satisfies it.
type Enqueuer interface {
	EnqueueRaw(ctx context.Context, queue string, payload []byte, opts ...job.Option) (*job.Job, error)
}

// cronParser accepts standard 5-field expressions and descriptors
// like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("conveyor/cron: parse %q: %w", expr, err)
	}
	return sched, nil
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often due entries are evaluated.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler fires registered entries when their schedule comes due.
type Scheduler struct {
	enqueuer Enqueuer
	logger   *slog.Logger

	tickInterval time.Duration

	mu        sync.Mutex
	entries   map[string]*Entry
	schedules map[string]cronlib.Schedule

	stopCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler that submits through enqueuer.
func NewScheduler(enqueuer Enqueuer, opts ...Option) *Scheduler {
	s := &Scheduler{
		enqueuer:     enqueuer,
		logger:       slog.Default(),
		tickInterval: time.Second,
		entries:      make(map[string]*Entry),
		schedules:    make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a recurring enqueue. The name must be unique; the
// first firing is the schedule's next occurrence, never immediate.
// Extra job options apply to every firing.
func (s *Scheduler) Register(name, schedule, queue string, payload json.RawMessage, opts ...job.Option) error {
	if name == "" {
		return errors.New("conveyor/cron: entry name required")
	}
	if queue == "" {
		return errors.New("conveyor/cron: target queue required")
	}

	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("conveyor/cron: entry %q already registered", name)
	}

	s.entries[name] = &Entry{
		Name:      name,
		Schedule:  schedule,
		Queue:     queue,
		Payload:   payload,
		Enabled:   true,
		NextRunAt: sched.Next(time.Now().UTC()),
		opts:      opts,
	}
	s.schedules[name] = sched
	return nil
}

// Deregister removes an entry.
func (s *Scheduler) Deregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
	delete(s.schedules, name)
}

// Enable turns an entry back on. The missed window is not backfilled;
// the entry next fires at its upcoming occurrence.
func (s *Scheduler) Enable(name string) error {
	return s.setEnabled(name, true)
}

// Disable stops an entry from firing without losing its registration.
func (s *Scheduler) Disable(name string) error {
	return s.setEnabled(name, false)
}

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("conveyor/cron: entry %q not registered", name)
	}
	if enabled && !e.Enabled {
		// Re-anchor so the entry does not fire for the time it
		// spent disabled.
		e.NextRunAt = s.schedules[name].Next(time.Now().UTC())
	}
	e.Enabled = enabled
	return nil
}

// Entries returns a snapshot of all registrations, sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the tick loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval))
}

// Stop halts the tick loop and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(now.UTC())
		}
	}
}

// tick fires every enabled entry whose schedule is due at now.
func (s *Scheduler) tick(now time.Time) {
	for _, due := range s.collectDue(now) {
		s.fire(due.entry, due.at)
	}
}

type firing struct {
	entry Entry
	at    time.Time
}

// collectDue advances NextRunAt for every due entry under the lock
// and returns copies to fire outside it. An entry that was due more
// than once since the last tick fires once per missed occurrence, so
// idempotency keys stay aligned with scheduled instants.
func (s *Scheduler) collectDue(now time.Time) []firing {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []firing
	for name, e := range s.entries {
		if !e.Enabled {
			continue
		}
		sched := s.schedules[name]
		for !e.NextRunAt.After(now) {
			at := e.NextRunAt
			due = append(due, firing{entry: *e, at: at})

			last := at
			e.LastRunAt = &last
			e.NextRunAt = sched.Next(at)
		}
	}
	return due
}

func (s *Scheduler) fire(e Entry, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := fmt.Sprintf("cron:%s:%d", e.Name, at.Unix())
	opts := append(append([]job.Option{}, e.opts...), job.WithIdempotencyKey(key))

	j, err := s.enqueuer.EnqueueRaw(ctx, e.Queue, e.Payload, opts...)
	switch {
	case errors.Is(err, conveyor.ErrJobAlreadyExists):
		// Another instance fired this occurrence first.
		return
	case err != nil:
		s.logger.Error("cron firing failed",
			slog.String("entry", e.Name),
			slog.String("queue", e.Queue),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("cron fired",
		slog.String("entry", e.Name),
		slog.String("queue", e.Queue),
		slog.String("job_id", j.ID.String()),
	)
}
