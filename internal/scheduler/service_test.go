package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orangeclock/internal/alarm"
	"orangeclock/internal/eventbus"
	"orangeclock/pkg/logx"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

type recordingAction struct {
	mu    sync.Mutex
	calls []alarm.Alarm
	err   error
	panic bool
}

func (r *recordingAction) fn(ctx context.Context, a alarm.Alarm) error {
	r.mu.Lock()
	r.calls = append(r.calls, a)
	r.mu.Unlock()
	if r.panic {
		panic("boom")
	}
	return r.err
}

func (r *recordingAction) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testAlarm(t *testing.T, id int64, hhmm, token, dateStr string) alarm.Alarm {
	t.Helper()
	tod, err := alarm.ParseTimeOfDay(hhmm)
	if err != nil {
		t.Fatalf("ParseTimeOfDay: %v", err)
	}
	r, _, err := alarm.ParseRule(token, dateStr)
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	return alarm.Alarm{ID: id, Time: tod, AudioRef: "chime.mp3", Rule: r}
}

func newTestService(act Action, bus eventbus.Bus) *Service {
	cfg := Config{Enabled: true}
	return New(cfg, alarm.FixedClock{At: testNow}, act, bus, logx.Nop())
}

func TestArmUpsertsSingleTrigger(t *testing.T) {
	t.Parallel()
	s := newTestService(nil, nil)

	if !s.Arm(testAlarm(t, 1, "08:00", "", "")) {
		t.Fatal("Arm returned false")
	}
	// Editing the same alarm replaces the trigger, it does not add one.
	if !s.Arm(testAlarm(t, 1, "09:30", "mon-wed", "")) {
		t.Fatal("re-Arm returned false")
	}

	snap := s.Snapshot()
	if len(snap.Armed) != 1 {
		t.Fatalf("armed = %d, want 1", len(snap.Armed))
	}
	if snap.Armed[0].Time != "09:30" {
		t.Fatalf("trigger time = %s, want the edited 09:30", snap.Armed[0].Time)
	}
}

func TestOneTimeTimerUsesInjectedClock(t *testing.T) {
	t.Parallel()
	act := &recordingAction{}
	s := newTestService(act.fn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	// 2025-06-16 10:00 is ~22h ahead of the fake clock but long past on
	// the wall clock. Computing the timer delay against the wall clock
	// would fire this immediately.
	if !s.Arm(testAlarm(t, 1, "10:00", "", "2025-06-16")) {
		t.Fatal("Arm returned false")
	}
	time.Sleep(100 * time.Millisecond)

	if n := act.count(); n != 0 {
		t.Fatalf("action ran %d times, want 0 before the fire instant", n)
	}
	if snap := s.Snapshot(); len(snap.Armed) != 1 {
		t.Fatalf("armed = %d, want the pending one-time trigger", len(snap.Armed))
	}
}

func TestArmSkipsPastOneTime(t *testing.T) {
	t.Parallel()
	s := newTestService(nil, nil)

	// 2025-01-01 10:00 is in the past relative to the test clock.
	if s.Arm(testAlarm(t, 1, "10:00", "", "2025-01-01")) {
		t.Fatal("expected Arm to skip a past one-time alarm")
	}
	if snap := s.Snapshot(); len(snap.Armed) != 0 {
		t.Fatalf("armed = %d, want 0", len(snap.Armed))
	}
}

func TestReloadReplacesRegistry(t *testing.T) {
	t.Parallel()
	s := newTestService(nil, nil)
	s.Arm(testAlarm(t, 1, "08:00", "", ""))
	s.Arm(testAlarm(t, 2, "09:00", "", ""))

	armed, skipped := s.Reload([]alarm.Alarm{
		testAlarm(t, 3, "10:00", "", ""),
		testAlarm(t, 4, "11:00", "", "2025-01-01"), // past, skipped
	})
	if armed != 1 || skipped != 1 {
		t.Fatalf("Reload = (%d, %d), want (1, 1)", armed, skipped)
	}

	snap := s.Snapshot()
	if len(snap.Armed) != 1 || snap.Armed[0].ID != 3 {
		t.Fatalf("registry after reload = %+v, want only alarm 3", snap.Armed)
	}
}

func TestDisarm(t *testing.T) {
	t.Parallel()
	s := newTestService(nil, nil)

	if s.Disarm(99) {
		t.Fatal("Disarm of unknown id should be a no-op")
	}

	s.Arm(testAlarm(t, 1, "08:00", "", ""))
	if !s.Disarm(1) {
		t.Fatal("Disarm returned false for an armed trigger")
	}
	if snap := s.Snapshot(); len(snap.Armed) != 0 {
		t.Fatalf("armed = %d, want 0", len(snap.Armed))
	}
}

func TestSnapshotNextFire(t *testing.T) {
	t.Parallel()
	s := newTestService(nil, nil)
	s.Arm(testAlarm(t, 1, "13:00", "", ""))

	snap := s.Snapshot()
	want := time.Date(2025, time.June, 15, 13, 0, 0, 0, time.UTC)
	if len(snap.Armed) != 1 || !snap.Armed[0].Next.Equal(want) {
		t.Fatalf("Next = %v, want %v", snap.Armed[0].Next, want)
	}
}

func TestFireInvokesActionAndPublishes(t *testing.T) {
	t.Parallel()
	act := &recordingAction{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := newTestService(act.fn, bus)
	s.Arm(testAlarm(t, 1, "08:00", "", ""))

	s.fire(s.triggers[1])

	if act.count() != 1 {
		t.Fatalf("action calls = %d, want 1", act.count())
	}
	snap := s.Snapshot()
	if snap.Fired != 1 || snap.Failed != 0 {
		t.Fatalf("counters = fired %d / failed %d", snap.Fired, snap.Failed)
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeAlarmFired {
			t.Fatalf("event type = %s, want %s", ev.Type, eventbus.TypeAlarmFired)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestFireActionFailureIsContained(t *testing.T) {
	t.Parallel()
	act := &recordingAction{err: errors.New("player unavailable")}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := newTestService(act.fn, bus)
	s.Arm(testAlarm(t, 1, "08:00", "", ""))

	s.fire(s.triggers[1])

	snap := s.Snapshot()
	if snap.Failed != 1 {
		t.Fatalf("failed = %d, want 1", snap.Failed)
	}
	// The trigger survives an action failure; the recurrence is not canceled.
	if len(snap.Armed) != 1 {
		t.Fatalf("armed = %d, want 1", len(snap.Armed))
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeAlarmFailed {
			t.Fatalf("event type = %s, want %s", ev.Type, eventbus.TypeAlarmFailed)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestFireActionPanicIsRecovered(t *testing.T) {
	t.Parallel()
	act := &recordingAction{panic: true}
	s := newTestService(act.fn, nil)
	s.Arm(testAlarm(t, 1, "08:00", "", ""))

	s.fire(s.triggers[1]) // must not crash the test

	if snap := s.Snapshot(); snap.Failed != 1 {
		t.Fatalf("failed = %d, want 1", snap.Failed)
	}
}

func TestFireNonReentrantPerTrigger(t *testing.T) {
	t.Parallel()
	act := &recordingAction{}
	s := newTestService(act.fn, nil)
	s.Arm(testAlarm(t, 1, "08:00", "", ""))

	tr := s.triggers[1]
	tr.inflight.Store(true)
	s.fire(tr)

	if act.count() != 0 {
		t.Fatal("overlapping fire should have been skipped")
	}
	if snap := s.Snapshot(); snap.SkippedOverlap != 1 {
		t.Fatalf("skipped = %d, want 1", snap.SkippedOverlap)
	}
}

func TestRuleScheduleNext(t *testing.T) {
	t.Parallel()
	// The cron adapter delegates straight to the rule algorithm.
	r, _, err := alarm.ParseRule("mon-wed", "")
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	sched := ruleSchedule{rule: r, tod: alarm.TimeOfDay{Hour: 8}}

	// 2025-01-07 09:00 is a Tuesday; next is Wednesday 08:00.
	got := sched.Next(time.Date(2025, time.January, 7, 9, 0, 0, 0, time.UTC))
	want := time.Date(2025, time.January, 8, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}
