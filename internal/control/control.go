package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orangeclock/internal/alarm"
	"orangeclock/internal/store"
	"orangeclock/pkg/logx"
)

// ErrUnknownAudio is returned when an alarm references a clip that is not in
// the library.
var ErrUnknownAudio = errors.New("audio clip not in library")

// Scheduler is the slice of the scheduler the control service drives.
type Scheduler interface {
	Arm(a alarm.Alarm) bool
	Disarm(id int64) bool
	Reload(alarms []alarm.Alarm) (armed, skipped int)
}

// AudioChecker answers whether a clip name exists in the library. A nil
// checker disables the reference check.
type AudioChecker interface {
	Exists(name string) bool
}

// Config carries the policy knobs for validation and window queries.
type Config struct {
	Conflict        alarm.ConflictPolicy
	MonthlyOverflow alarm.MonthlyOverflowPolicy
	Horizon         time.Duration // upcoming window, 0 means the 24h default
}

// Request is the mutable part of an alarm as submitted by a client.
type Request struct {
	Time   string `json:"time"`
	Audio  string `json:"audio"`
	Repeat string `json:"repeat,omitempty"`
	Date   string `json:"date,omitempty"`
}

// View is the externally visible shape of a stored alarm.
type View struct {
	ID      int64     `json:"id"`
	Time    string    `json:"time"`
	Audio   string    `json:"audio"`
	Repeat  string    `json:"repeat,omitempty"`
	Date    string    `json:"date,omitempty"`
	Rule    string    `json:"rule"`
	Next    time.Time `json:"next,omitempty"`
	Warning string    `json:"warning,omitempty"`
}

// UpcomingView is one occurrence inside the upcoming window.
type UpcomingView struct {
	ID    int64     `json:"id"`
	Time  string    `json:"time"`
	Audio string    `json:"audio"`
	Rule  string    `json:"rule"`
	At    time.Time `json:"at"`
}

// Service coordinates the store, the scheduler and the rule model.
type Service struct {
	cfg   Config
	st    store.Store
	sched Scheduler
	audio AudioChecker
	clock alarm.Clock
	log   logx.Logger
}

func New(cfg Config, st store.Store, sched Scheduler, audio AudioChecker, clock alarm.Clock, log logx.Logger) *Service {
	if clock == nil {
		clock = alarm.RealClock{}
	}
	return &Service{cfg: cfg, st: st, sched: sched, audio: audio, clock: clock, log: log}
}

// Create validates the request, persists it, and arms the scheduler.
func (s *Service) Create(ctx context.Context, req Request) (View, error) {
	a, warning, err := s.build(0, req)
	if err != nil {
		return View{}, err
	}
	if err := s.checkConflict(ctx, a); err != nil {
		return View{}, err
	}

	id, err := s.st.Insert(ctx, toRecord(a, req))
	if err != nil {
		return View{}, fmt.Errorf("persist alarm: %w", err)
	}
	a.ID = id
	armed := s.arm(a)

	s.log.Info("alarm created",
		logx.Int64("alarm", id),
		logx.String("time", req.Time),
		logx.String("rule", a.Rule.DisplayString()),
		logx.Bool("armed", armed))
	return s.view(a, warning), nil
}

// Edit replaces an alarm wholesale and swaps its trigger.
func (s *Service) Edit(ctx context.Context, id int64, req Request) (View, error) {
	if _, err := s.st.Get(ctx, id); err != nil {
		return View{}, err
	}
	a, warning, err := s.build(id, req)
	if err != nil {
		return View{}, err
	}
	if err := s.checkConflict(ctx, a); err != nil {
		return View{}, err
	}

	if err := s.st.Update(ctx, id, toRecord(a, req)); err != nil {
		return View{}, fmt.Errorf("persist alarm: %w", err)
	}
	armed := s.arm(a)

	s.log.Info("alarm updated", logx.Int64("alarm", id), logx.Bool("armed", armed))
	return s.view(a, warning), nil
}

// Delete removes the alarm from the store and disarms its trigger.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.st.Delete(ctx, id); err != nil {
		return err
	}
	if s.sched != nil {
		s.sched.Disarm(id)
	}
	s.log.Info("alarm deleted", logx.Int64("alarm", id))
	return nil
}

// Get returns one stored alarm.
func (s *Service) Get(ctx context.Context, id int64) (View, error) {
	rec, err := s.st.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	a, warning, err := fromRecord(rec)
	if err != nil {
		return View{}, err
	}
	return s.view(a, warning), nil
}

// List returns every stored alarm. Rows whose rule no longer parses are
// reported with an empty Next rather than dropped, so a bad legacy row stays
// visible and fixable.
func (s *Service) List(ctx context.Context) ([]View, error) {
	recs, err := s.st.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		a, warning, err := fromRecord(rec)
		if err != nil {
			out = append(out, View{
				ID: rec.ID, Time: rec.Time, Audio: rec.Audio,
				Repeat: rec.Repeat, Date: rec.Date,
				Warning: err.Error(),
			})
			continue
		}
		out = append(out, s.view(a, warning))
	}
	return out, nil
}

// Upcoming lists occurrences inside the window, soonest first. A horizon of
// zero or less falls back to the configured window.
func (s *Service) Upcoming(ctx context.Context, horizon time.Duration) ([]UpcomingView, error) {
	if horizon <= 0 {
		horizon = s.cfg.Horizon
	}
	alarms, _, err := s.loadAlarms(ctx)
	if err != nil {
		return nil, err
	}
	occs := alarm.Upcoming(alarms, s.clock.Now(), horizon, s.cfg.MonthlyOverflow)
	out := make([]UpcomingView, 0, len(occs))
	for _, o := range occs {
		out = append(out, UpcomingView{
			ID:    o.Alarm.ID,
			Time:  o.Alarm.Time.String(),
			Audio: o.Alarm.AudioRef,
			Rule:  o.Alarm.Rule.DisplayString(),
			At:    o.At,
		})
	}
	return out, nil
}

// ReloadAll rebuilds every trigger from the store. Used at startup and after
// configuration changes.
func (s *Service) ReloadAll(ctx context.Context) (armed, skipped int, err error) {
	alarms, bad, err := s.loadAlarms(ctx)
	if err != nil {
		return 0, 0, err
	}
	if bad > 0 {
		s.log.Warn("rows with unparseable rules skipped", logx.Int("count", bad))
	}
	if s.sched == nil {
		return 0, 0, nil
	}
	armed, skipped = s.sched.Reload(alarms)
	return armed, skipped, nil
}

// ---- helpers ----

// build validates a request into a domain alarm, returning the repeat/date
// override warning when both were supplied.
func (s *Service) build(id int64, req Request) (alarm.Alarm, string, error) {
	tod, err := alarm.ParseTimeOfDay(req.Time)
	if err != nil {
		return alarm.Alarm{}, "", err
	}
	rule, warning, err := alarm.ParseRule(req.Repeat, req.Date)
	if err != nil {
		return alarm.Alarm{}, "", err
	}
	if req.Audio == "" {
		return alarm.Alarm{}, "", fmt.Errorf("%w: empty name", ErrUnknownAudio)
	}
	if s.audio != nil && !s.audio.Exists(req.Audio) {
		return alarm.Alarm{}, "", fmt.Errorf("%w: %s", ErrUnknownAudio, req.Audio)
	}
	if warning != "" {
		s.log.Warn("repeat token ignored", logx.Int64("alarm", id), logx.String("detail", warning))
	}
	return alarm.Alarm{ID: id, Time: tod, AudioRef: req.Audio, Rule: rule}, warning, nil
}

func (s *Service) checkConflict(ctx context.Context, a alarm.Alarm) error {
	existing, _, err := s.loadAlarms(ctx)
	if err != nil {
		return err
	}
	return alarm.CheckConflict(a, existing, s.cfg.Conflict)
}

func (s *Service) arm(a alarm.Alarm) bool {
	if s.sched == nil {
		return false
	}
	return s.sched.Arm(a)
}

// loadAlarms loads and parses every row, counting rows that fail to parse.
func (s *Service) loadAlarms(ctx context.Context) ([]alarm.Alarm, int, error) {
	recs, err := s.st.LoadAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := make([]alarm.Alarm, 0, len(recs))
	bad := 0
	for _, rec := range recs {
		a, _, err := fromRecord(rec)
		if err != nil {
			bad++
			continue
		}
		out = append(out, a)
	}
	return out, bad, nil
}

func (s *Service) view(a alarm.Alarm, warning string) View {
	return View{
		ID:      a.ID,
		Time:    a.Time.String(),
		Audio:   a.AudioRef,
		Repeat:  a.Rule.Token(),
		Date:    a.Rule.DateString(),
		Rule:    a.Rule.DisplayString(),
		Next:    a.NextFire(s.clock.Now(), s.cfg.MonthlyOverflow),
		Warning: warning,
	}
}

func toRecord(a alarm.Alarm, req Request) store.Record {
	return store.Record{
		ID:     a.ID,
		Time:   a.Time.String(),
		Audio:  a.AudioRef,
		Repeat: req.Repeat,
		Date:   a.Rule.DateString(),
	}
}

func fromRecord(rec store.Record) (alarm.Alarm, string, error) {
	tod, err := alarm.ParseTimeOfDay(rec.Time)
	if err != nil {
		return alarm.Alarm{}, "", err
	}
	rule, warning, err := alarm.ParseRule(rec.Repeat, rec.Date)
	if err != nil {
		return alarm.Alarm{}, "", err
	}
	return alarm.Alarm{ID: rec.ID, Time: tod, AudioRef: rec.Audio, Rule: rule}, warning, nil
}
