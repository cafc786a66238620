package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	appLog "todaywhat/internal/log"
)

// RefreshInterval is the fixed distance to the next automatic refresh.
const RefreshInterval = time.Hour

// Horizon returns the instant at which the next refresh is due.
func Horizon(instant time.Time) time.Time {
	return instant.Add(RefreshInterval)
}

// HostScheduler registers a one-shot wake-up. Registering again replaces
// any wake that has not fired yet.
type HostScheduler interface {
	ScheduleWake(at time.Time) error
}

// Refresher is re-run whenever the horizon fires.
type Refresher interface {
	Refresh(ctx context.Context)
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context)

func (f RefreshFunc) Refresh(ctx context.Context) { f(ctx) }

// Scheduler arms the refresh horizon and re-runs its targets when it fires.
// It holds no state besides the last horizon for reporting.
type Scheduler struct {
	host    HostScheduler
	clock   Clock
	targets []Refresher

	mu   sync.Mutex
	next time.Time
}

func NewScheduler(host HostScheduler, clock Clock, targets ...Refresher) *Scheduler {
	return &Scheduler{host: host, clock: clock, targets: targets}
}

// Arm computes the horizon from the current clock and registers it.
// A registration failure is only logged: the last view state stays up
// until something else triggers a refresh.
func (s *Scheduler) Arm() time.Time {
	at := Horizon(s.clock.Now())
	if err := s.host.ScheduleWake(at); err != nil {
		appLog.Error("refresh wake registration failed", err, "at", at.Format(time.RFC3339))
		return at
	}
	s.mu.Lock()
	s.next = at
	s.mu.Unlock()
	appLog.Debug("refresh wake armed", "at", at.Format(time.RFC3339))
	return at
}

// Next reports the last successfully registered horizon.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Wake refreshes every target and arms the following horizon.
func (s *Scheduler) Wake(ctx context.Context) {
	for _, t := range s.targets {
		t.Refresh(ctx)
	}
	s.Arm()
}

// onceSchedule fires a single time at `at`; afterwards Next returns the
// zero time, which robfig/cron treats as "never".
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// CronHost is the HostScheduler backed by robfig/cron. The same cron
// instance also runs the periodic refresh spec from config.
type CronHost struct {
	c *cron.Cron

	mu      sync.Mutex
	pending cron.EntryID
	onWake  func(at time.Time)
}

// NewCronHost builds an idle host; call Start to begin dispatching.
func NewCronHost(loc *time.Location) *CronHost {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	return &CronHost{
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
	}
}

// OnWake sets the handler invoked when a registered wake fires.
func (h *CronHost) OnWake(fn func(at time.Time)) {
	h.mu.Lock()
	h.onWake = fn
	h.mu.Unlock()
}

func (h *CronHost) ScheduleWake(at time.Time) error {
	if at.IsZero() {
		return errors.New("schedule: wake time is zero")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pending != 0 {
		h.c.Remove(h.pending)
	}
	jobID := uuid.NewString()
	var id cron.EntryID
	id = h.c.Schedule(onceSchedule{at: at}, cron.FuncJob(func() {
		h.mu.Lock()
		fn := h.onWake
		if h.pending == id {
			h.c.Remove(id)
			h.pending = 0
		}
		h.mu.Unlock()

		appLog.Info("refresh wake fired", "job", jobID, "at", at.Format(time.RFC3339))
		if fn != nil {
			fn(at)
		}
	}))
	h.pending = id
	return nil
}

// AddPeriodic registers fn on a standard 5-field cron spec.
func (h *CronHost) AddPeriodic(spec string, fn func()) error {
	_, err := h.c.AddFunc(spec, fn)
	return err
}

func (h *CronHost) Start() {
	h.c.Start()
}

// Stop halts dispatch and waits for running jobs or ctx, whichever first.
func (h *CronHost) Stop(ctx context.Context) {
	done := h.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLogger routes robfig/cron's logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
