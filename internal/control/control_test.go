package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"orangeclock/internal/alarm"
	"orangeclock/internal/store"
	"orangeclock/pkg/logx"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC) // a Sunday

type memStore struct {
	nextID int64
	rows   map[int64]store.Record
}

func newMemStore() *memStore {
	return &memStore{nextID: 1, rows: map[int64]store.Record{}}
}

func (m *memStore) LoadAll(context.Context) ([]store.Record, error) {
	out := make([]store.Record, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, id int64) (store.Record, error) {
	r, ok := m.rows[id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) Insert(_ context.Context, r store.Record) (int64, error) {
	r.ID = m.nextID
	m.nextID++
	m.rows[r.ID] = r
	return r.ID, nil
}

func (m *memStore) Update(_ context.Context, id int64, r store.Record) error {
	if _, ok := m.rows[id]; !ok {
		return store.ErrNotFound
	}
	r.ID = id
	m.rows[id] = r
	return nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	if _, ok := m.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memStore) Close() error { return nil }

type fakeSched struct {
	armed    []int64
	disarmed []int64
	reloads  int
}

func (f *fakeSched) Arm(a alarm.Alarm) bool {
	f.armed = append(f.armed, a.ID)
	return true
}

func (f *fakeSched) Disarm(id int64) bool {
	f.disarmed = append(f.disarmed, id)
	return true
}

func (f *fakeSched) Reload(alarms []alarm.Alarm) (int, int) {
	f.reloads++
	return len(alarms), 0
}

type allowAllAudio struct{}

func (allowAllAudio) Exists(string) bool { return true }

type denyAudio struct{}

func (denyAudio) Exists(string) bool { return false }

func newTestService(t *testing.T, cfg Config) (*Service, *memStore, *fakeSched) {
	t.Helper()
	st := newMemStore()
	sched := &fakeSched{}
	svc := New(cfg, st, sched, allowAllAudio{}, alarm.FixedClock{At: testNow}, logx.Nop())
	return svc, st, sched
}

func TestCreatePersistsAndArms(t *testing.T) {
	t.Parallel()
	svc, st, sched := newTestService(t, Config{})

	v, err := svc.Create(context.Background(), Request{Time: "08:00", Audio: "chime.mp3", Repeat: "mon-wed"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.ID != 1 || v.Time != "08:00" {
		t.Fatalf("view = %+v", v)
	}
	if len(st.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(st.rows))
	}
	if len(sched.armed) != 1 || sched.armed[0] != 1 {
		t.Fatalf("armed = %v, want [1]", sched.armed)
	}
	// Monday June 16 08:00 is the next mon-wed slot after Sunday noon.
	want := time.Date(2025, time.June, 16, 8, 0, 0, 0, time.UTC)
	if !v.Next.Equal(want) {
		t.Fatalf("Next = %v, want %v", v.Next, want)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	if _, err := svc.Create(ctx, Request{Time: "25:00", Audio: "a.mp3"}); !errors.Is(err, alarm.ErrInvalidRule) {
		t.Fatalf("bad time err = %v, want ErrInvalidRule", err)
	}
	if _, err := svc.Create(ctx, Request{Time: "08:00", Audio: "a.mp3", Repeat: "notaday"}); !errors.Is(err, alarm.ErrInvalidRule) {
		t.Fatalf("bad token err = %v, want ErrInvalidRule", err)
	}
	if _, err := svc.Create(ctx, Request{Time: "08:00", Audio: ""}); !errors.Is(err, ErrUnknownAudio) {
		t.Fatalf("empty audio err = %v, want ErrUnknownAudio", err)
	}
}

func TestCreateRejectsUnknownClip(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	svc := New(Config{}, st, &fakeSched{}, denyAudio{}, alarm.FixedClock{At: testNow}, logx.Nop())

	_, err := svc.Create(context.Background(), Request{Time: "08:00", Audio: "ghost.mp3"})
	if !errors.Is(err, ErrUnknownAudio) {
		t.Fatalf("err = %v, want ErrUnknownAudio", err)
	}
	if len(st.rows) != 0 {
		t.Fatal("rejected alarm must not be persisted")
	}
}

func TestCreateConflict(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	if _, err := svc.Create(ctx, Request{Time: "08:00", Audio: "a.mp3", Repeat: "mon-fri"}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	// Weekly overlap at the same minute is a conflict under the default policy.
	_, err := svc.Create(ctx, Request{Time: "08:00", Audio: "b.mp3", Repeat: "fri"})
	if !errors.Is(err, alarm.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	// A different minute is fine.
	if _, err := svc.Create(ctx, Request{Time: "08:01", Audio: "b.mp3", Repeat: "fri"}); err != nil {
		t.Fatalf("non-conflicting Create: %v", err)
	}
}

func TestCreateDateOverridesToken(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, Config{})

	v, err := svc.Create(context.Background(), Request{
		Time: "08:00", Audio: "a.mp3", Repeat: "mon", Date: "2025-12-25",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.Warning == "" {
		t.Fatal("expected an override warning when both repeat and date are set")
	}
	if v.Date != "2025-12-25" {
		t.Fatalf("Date = %q", v.Date)
	}
}

func TestEditSwapsTrigger(t *testing.T) {
	t.Parallel()
	svc, st, sched := newTestService(t, Config{})
	ctx := context.Background()

	v, err := svc.Create(ctx, Request{Time: "08:00", Audio: "a.mp3"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.Edit(ctx, v.ID, Request{Time: "09:15", Audio: "b.mp3", Repeat: "sat-sun"})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.Time != "09:15" || got.Repeat != "sat-sun" {
		t.Fatalf("view = %+v", got)
	}
	if st.rows[v.ID].Time != "09:15" {
		t.Fatalf("store row = %+v", st.rows[v.ID])
	}
	// Create armed once, edit re-armed once; the upsert is the scheduler's job.
	if len(sched.armed) != 2 {
		t.Fatalf("arm calls = %d, want 2", len(sched.armed))
	}

	if _, err := svc.Edit(ctx, 999, Request{Time: "09:15", Audio: "b.mp3"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("edit missing err = %v, want ErrNotFound", err)
	}
}

func TestEditSelfNoConflict(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	v, err := svc.Create(ctx, Request{Time: "08:00", Audio: "a.mp3", Repeat: "mon"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Re-saving the same alarm unchanged must not conflict with itself.
	if _, err := svc.Edit(ctx, v.ID, Request{Time: "08:00", Audio: "a.mp3", Repeat: "mon"}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
}

func TestDeleteDisarms(t *testing.T) {
	t.Parallel()
	svc, _, sched := newTestService(t, Config{})
	ctx := context.Background()

	v, err := svc.Create(ctx, Request{Time: "08:00", Audio: "a.mp3"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(ctx, v.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(sched.disarmed) != 1 || sched.disarmed[0] != v.ID {
		t.Fatalf("disarmed = %v", sched.disarmed)
	}
	if err := svc.Delete(ctx, v.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestUpcomingWindow(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	// Daily 13:00 today is inside the 24h window from Sunday noon.
	if _, err := svc.Create(ctx, Request{Time: "13:00", Audio: "a.mp3"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Wednesday-only alarm is outside the window.
	if _, err := svc.Create(ctx, Request{Time: "13:00", Audio: "b.mp3", Repeat: "wed"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ups, err := svc.Upcoming(ctx, 0)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(ups) != 1 || ups[0].Audio != "a.mp3" {
		t.Fatalf("Upcoming = %+v, want only the daily alarm", ups)
	}
	want := time.Date(2025, time.June, 15, 13, 0, 0, 0, time.UTC)
	if !ups[0].At.Equal(want) {
		t.Fatalf("At = %v, want %v", ups[0].At, want)
	}
}

func TestUpcomingCustomHorizon(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	// From Sunday noon: 14:00 today is 2h away, 08:00 is 20h away.
	if _, err := svc.Create(ctx, Request{Time: "14:00", Audio: "a.mp3"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, Request{Time: "08:00", Audio: "b.mp3"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ups, err := svc.Upcoming(ctx, 4*time.Hour)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(ups) != 1 || ups[0].Audio != "a.mp3" {
		t.Fatalf("Upcoming(4h) = %+v, want only the 14:00 alarm", ups)
	}

	ups, err = svc.Upcoming(ctx, 0)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(ups) != 2 {
		t.Fatalf("Upcoming(default) = %+v, want both alarms", ups)
	}
}

func TestReloadAll(t *testing.T) {
	t.Parallel()
	svc, _, sched := newTestService(t, Config{})
	ctx := context.Background()

	svc.Create(ctx, Request{Time: "08:00", Audio: "a.mp3"})
	svc.Create(ctx, Request{Time: "09:00", Audio: "b.mp3", Repeat: "mon"})

	armed, skipped, err := svc.ReloadAll(ctx)
	if err != nil {
		t.Fatalf("ReloadAll: %v", err)
	}
	if armed != 2 || skipped != 0 {
		t.Fatalf("ReloadAll = (%d, %d), want (2, 0)", armed, skipped)
	}
	if sched.reloads != 1 {
		t.Fatalf("reloads = %d, want 1", sched.reloads)
	}
}

func TestListSurvivesBadRow(t *testing.T) {
	t.Parallel()
	svc, st, _ := newTestService(t, Config{})
	ctx := context.Background()

	svc.Create(ctx, Request{Time: "08:00", Audio: "a.mp3"})
	// A legacy row with garbage in the repeat column.
	st.rows[99] = store.Record{ID: 99, Time: "07:00", Audio: "x.mp3", Repeat: "???"}

	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("List = %d rows, want 2", len(views))
	}
	for _, v := range views {
		if v.ID == 99 && v.Warning == "" {
			t.Fatal("bad row should carry a warning")
		}
	}
}
