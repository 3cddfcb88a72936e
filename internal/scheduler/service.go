package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"orangeclock/internal/alarm"
	"orangeclock/internal/eventbus"
	logx "orangeclock/pkg/logx"
)

// Service is the armed-trigger registry.
//
// All registry mutations (Arm/Disarm/Reload/Start/Stop) are serialized under
// one mutex; firing happens in goroutines spawned by the cron runner (or a
// one-time timer) and never holds that mutex while the action runs.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	clock  alarm.Clock
	action Action
	bus    eventbus.Bus

	c        *cron.Cron
	started  bool
	baseCtx  context.Context
	triggers map[int64]*trigger

	// one-time timers, guarded separately so a firing timer never contends
	// with registry operations for longer than a map lookup
	tmu    sync.Mutex
	timers map[int64]*time.Timer
	vers   map[int64]uint64

	fired          atomic.Uint64
	failed         atomic.Uint64
	skippedOverlap atomic.Uint64
}

func New(cfg Config, clock alarm.Clock, action Action, bus eventbus.Bus, log logx.Logger) *Service {
	if clock == nil {
		clock = alarm.RealClock{}
	}
	return &Service{
		log:      log,
		cfg:      cfg,
		clock:    clock,
		action:   action,
		bus:      bus,
		triggers: map[int64]*trigger{},
		timers:   map[int64]*time.Timer{},
		vers:     map[int64]uint64{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates the config. A changed monthly-overflow policy re-registers
// every armed trigger so already-computed fire instants pick it up.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := cfg.MonthlyOverflow != s.cfg.MonthlyOverflow
	s.cfg = cfg
	if changed && s.started {
		s.rebuildLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.baseCtx = ctx
	s.c = cron.New()
	s.started = true
	for _, tr := range s.triggers {
		s.registerLocked(tr)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("armed", len(s.triggers)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false

	stop := s.c.Stop()
	select {
	case <-stop.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for running actions")
	}
	s.c = nil

	s.tmu.Lock()
	for id, t := range s.timers {
		_ = t.Stop()
		s.vers[id]++
	}
	s.timers = map[int64]*time.Timer{}
	s.tmu.Unlock()

	for _, tr := range s.triggers {
		tr.entryID = 0
	}
	s.log.Info("scheduler stopped")
}

// Reload atomically replaces the whole registry with triggers derived from
// the given alarm set. Alarms with no future occurrence (a past one-time
// date) are skipped, not erred. Returns (armed, skipped).
func (s *Service) Reload(alarms []alarm.Alarm) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.triggers {
		s.disarmLocked(id)
	}

	armed, skipped := 0, 0
	for _, a := range alarms {
		if s.armLocked(a) {
			armed++
		} else {
			skipped++
		}
	}

	s.log.Info("alarms reloaded", logx.Int("armed", armed), logx.Int("skipped", skipped))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmsReloaded, Data: armed})
	}
	return armed, skipped
}

// Arm upserts the trigger for the alarm, replacing any previous one for the
// same id so an edit swaps old for new in one step. Returns false when the
// alarm has no future occurrence and nothing was armed.
func (s *Service) Arm(a alarm.Alarm) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armLocked(a)
}

// Disarm removes the trigger for the id. No-op (false) if absent.
func (s *Service) Disarm(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return false
	}
	s.disarmLocked(id)
	s.log.Debug("trigger disarmed", logx.Int64("alarm", id))
	return true
}

// Snapshot reports the armed triggers with freshly computed next-fire
// instants, plus counters.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	snap := Snapshot{
		Running:        s.started,
		Fired:          s.fired.Load(),
		Failed:         s.failed.Load(),
		SkippedOverlap: s.skippedOverlap.Load(),
	}
	for _, tr := range s.triggers {
		snap.Armed = append(snap.Armed, TriggerInfo{
			ID:       tr.alarm.ID,
			AudioRef: tr.alarm.AudioRef,
			Rule:     tr.alarm.Rule.DisplayString(),
			Time:     tr.alarm.Time.String(),
			Next:     tr.alarm.NextFire(now, s.cfg.MonthlyOverflow),
			OneTime:  tr.once,
		})
	}
	sort.Slice(snap.Armed, func(i, j int) bool { return snap.Armed[i].ID < snap.Armed[j].ID })
	return snap
}

// ---- internals (call with s.mu held) ----

func (s *Service) armLocked(a alarm.Alarm) bool {
	s.disarmLocked(a.ID)

	next := a.NextFire(s.clock.Now(), s.cfg.MonthlyOverflow)
	if next.IsZero() {
		s.log.Debug("alarm has no future occurrence, not armed",
			logx.Int64("alarm", a.ID), logx.String("rule", a.Rule.DisplayString()))
		return false
	}

	tr := &trigger{alarm: a, once: !a.Rule.Recurring()}
	s.triggers[a.ID] = tr
	if s.started {
		s.registerLocked(tr)
	}
	s.log.Debug("trigger armed",
		logx.Int64("alarm", a.ID),
		logx.String("rule", a.Rule.DisplayString()),
		logx.Time("next", next))
	return true
}

func (s *Service) disarmLocked(id int64) {
	tr, ok := s.triggers[id]
	if !ok {
		return
	}
	delete(s.triggers, id)
	if tr.entryID != 0 && s.c != nil {
		s.c.Remove(tr.entryID)
	}
	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	s.vers[id]++
	s.tmu.Unlock()
}

// registerLocked attaches the trigger to the running dispatch mechanism:
// cron entry for recurring rules, guarded timer for one-time rules.
func (s *Service) registerLocked(tr *trigger) {
	if tr.once {
		s.registerOnce(tr)
		return
	}
	sched := ruleSchedule{rule: tr.alarm.Rule, tod: tr.alarm.Time, policy: s.cfg.MonthlyOverflow}
	tr.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(tr) }))
}

func (s *Service) registerOnce(tr *trigger) {
	id := tr.alarm.ID
	next := tr.alarm.NextFire(s.clock.Now(), s.cfg.MonthlyOverflow)
	if next.IsZero() {
		return
	}
	delay := next.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
	}
	s.vers[id]++
	ver := s.vers[id]
	s.timers[id] = time.AfterFunc(delay, func() {
		// A replaced or disarmed timer bumps the version; ignore the stale
		// callback so an edited alarm cannot fire from its old trigger.
		s.tmu.Lock()
		if s.vers[id] != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, id)
		s.tmu.Unlock()

		// Retire before running the action: one-time rules never re-arm.
		s.mu.Lock()
		if cur, ok := s.triggers[id]; ok && cur == tr {
			delete(s.triggers, id)
		}
		s.mu.Unlock()

		s.fire(tr)
	})
	s.tmu.Unlock()
}

// rebuildLocked re-registers every trigger (policy change).
func (s *Service) rebuildLocked() {
	for _, tr := range s.triggers {
		if tr.entryID != 0 && s.c != nil {
			s.c.Remove(tr.entryID)
			tr.entryID = 0
		}
		s.registerLocked(tr)
	}
}

// fire runs the injected action for a trigger. It never panics outward and
// never touches the registry lock while the action is running, so a long
// audio clip cannot stall arming or reloading.
func (s *Service) fire(tr *trigger) {
	a := tr.alarm
	if !tr.inflight.CompareAndSwap(false, true) {
		s.skippedOverlap.Add(1)
		s.log.Warn("previous fire still running, skipping", logx.Int64("alarm", a.ID))
		return
	}
	defer tr.inflight.Store(false)

	ctx, cancel := s.actionContext()
	defer cancel()

	start := time.Now()
	err := s.invoke(ctx, a)
	took := time.Since(start)

	if err != nil {
		s.failed.Add(1)
		s.log.Warn("alarm action failed",
			logx.Int64("alarm", a.ID),
			logx.String("audio", a.AudioRef),
			logx.Duration("took", took),
			logx.Err(err))
		s.publish(eventbus.TypeAlarmFailed, a, err)
		return
	}
	s.fired.Add(1)
	s.log.Info("alarm fired",
		logx.Int64("alarm", a.ID),
		logx.String("audio", a.AudioRef),
		logx.Duration("took", took))
	s.publish(eventbus.TypeAlarmFired, a, nil)
}

func (s *Service) invoke(ctx context.Context, a alarm.Alarm) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()
	if s.action == nil {
		return nil
	}
	return s.action(ctx, a)
}

func (s *Service) actionContext() (context.Context, context.CancelFunc) {
	s.mu.Lock()
	base := s.baseCtx
	timeout := s.cfg.ActionTimeout
	s.mu.Unlock()

	if base == nil {
		base = context.Background()
	}
	if timeout > 0 {
		return context.WithTimeout(base, timeout)
	}
	return context.WithCancel(base)
}

func (s *Service) publish(typ string, a alarm.Alarm, err error) {
	if s.bus == nil {
		return
	}
	ev := eventbus.AlarmEvent{ID: a.ID, AudioRef: a.AudioRef}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
