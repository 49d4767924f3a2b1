// Package scheduler triggers view runs on cron or interval schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "viewbot/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means local
}

type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	job     Job
	id      cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
	lastErr atomic.Value // string
}

// Service runs registered jobs under robfig/cron. A job whose previous run
// is still in flight is skipped, not queued.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	cfg     Config
	loc     *time.Location
	parser  cron.Parser
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]*entry
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "scheduler")),
		parser:  cronParser,
		entries: map[string]*entry{},
	}
}

// Add registers or replaces the job called name.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("schedule name required")
	}
	if job == nil {
		return errors.New("schedule job required")
	}
	ps, err := CheckSchedule(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	e := &entry{name: name, spec: ps, timeout: timeout, job: job}
	s.entries[name] = e
	if s.c != nil {
		if err := s.registerLocked(e); err != nil {
			delete(s.entries, name)
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", ps.CronSpec()))
	return nil
}

// Remove unregisters name. It reports whether a job was registered.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

// Names returns the registered job names, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil && e.id != 0 {
		s.c.Remove(e.id)
	}
	delete(s.entries, name)
	return true
}

func (s *Service) registerLocked(e *entry) error {
	id, err := s.c.AddFunc(e.spec.CronSpec(), func() { s.fire(e) })
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

func (s *Service) fire(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		s.log.Warn("run skipped, previous still running", logx.String("name", e.name))
		return
	}
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		e.running.Store(false)
		return
	}
	defer e.running.Store(false)

	ctx := base
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, e.timeout)
		defer cancel()
	}
	e.runs.Add(1)
	start := time.Now()
	err := s.run(ctx, e)
	if err != nil {
		e.lastErr.Store(err.Error())
		s.log.Warn("scheduled run failed", logx.String("name", e.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	e.lastErr.Store("")
	s.log.Debug("scheduled run finished", logx.String("name", e.name), logx.Duration("took", time.Since(start)))
}

func (s *Service) run(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled job", logx.String("name", e.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.job(ctx)
}

// Start begins triggering. Jobs receive a context derived from ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	s.loc = loc
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, e := range s.entries {
		if err := s.registerLocked(e); err != nil {
			s.log.Error("schedule register failed", logx.String("name", e.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.entries)))
	return nil
}

// Stop halts triggering and waits for in-flight runs or ctx, whichever
// comes first. Runs still going when ctx ends are canceled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped")
}

// ScheduleInfo describes one registered job.
type ScheduleInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev"`
	Running bool      `json:"running"`
	Runs    uint64    `json:"runs"`
	Skipped uint64    `json:"skipped"`
	LastErr string    `json:"last_err,omitempty"`
}

type Snapshot struct {
	Timezone  string         `json:"timezone"`
	Started   bool           `json:"started"`
	Schedules []ScheduleInfo `json:"schedules"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Timezone: s.cfg.Timezone, Started: s.c != nil}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, e := range s.entries {
		info := ScheduleInfo{
			Name:    e.name,
			Spec:    e.spec.CronSpec(),
			Running: e.running.Load(),
			Runs:    e.runs.Load(),
			Skipped: e.skipped.Load(),
		}
		info.LastErr, _ = e.lastErr.Load().(string)
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
	}
	return loc, nil
}
