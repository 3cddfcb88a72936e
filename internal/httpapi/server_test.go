package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"orangeclock/internal/alarm"
	"orangeclock/internal/audio"
	"orangeclock/internal/control"
	"orangeclock/internal/scheduler"
	"orangeclock/internal/store"
	"orangeclock/pkg/logx"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

type memStore struct {
	nextID int64
	rows   map[int64]store.Record
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

func newTestServer(t *testing.T) (*httptest.Server, *audio.Repo) {
	t.Helper()

	clips, err := audio.NewRepo(afero.NewMemMapFs(), "/clips", logx.Nop())
	if err != nil {
		t.Fatalf("NewRepo: %v", err)
	}
	if _, err := clips.Save("chime.mp3", strings.NewReader("chime-bytes")); err != nil {
		t.Fatalf("seed clip: %v", err)
	}

	clock := alarm.FixedClock{At: testNow}
	sched := scheduler.New(scheduler.Config{Enabled: true}, clock, nil, nil, logx.Nop())
	st := &memStore{nextID: 1, rows: map[int64]store.Record{}}
	ctl := control.New(control.Config{}, st, sched, clips, clock, logx.Nop())

	srv := New(Config{}, ctl, clips, sched.Snapshot, logx.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, clips
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, fields
}

func TestAlarmLifecycle(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	// create
	resp, fields := doJSON(t, http.MethodPost, ts.URL+"/api/alarms", control.Request{
		Time: "08:00", Audio: "chime.mp3", Repeat: "mon-wed",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, fields["error"])
	}
	var id int64
	if err := json.Unmarshal(fields["id"], &id); err != nil || id == 0 {
		t.Fatalf("create returned id %s", fields["id"])
	}

	// get
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/alarms/1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	// edit
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/alarms/1", control.Request{
		Time: "09:30", Audio: "chime.mp3",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit status = %d", resp.StatusCode)
	}

	// list
	resp, fields = doJSON(t, http.MethodGet, ts.URL+"/api/alarms", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var views []control.View
	if err := json.Unmarshal(fields["alarms"], &views); err != nil || len(views) != 1 {
		t.Fatalf("list = %s", fields["alarms"])
	}
	if views[0].Time != "09:30" {
		t.Fatalf("listed time = %s, want the edited 09:30", views[0].Time)
	}

	// delete
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/alarms/1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/alarms/1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateAlarmErrors(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	cases := []struct {
		name string
		req  control.Request
		want int
	}{
		{"bad time", control.Request{Time: "99:00", Audio: "chime.mp3"}, http.StatusBadRequest},
		{"bad token", control.Request{Time: "08:00", Audio: "chime.mp3", Repeat: "xyz"}, http.StatusBadRequest},
		{"unknown clip", control.Request{Time: "08:00", Audio: "ghost.mp3"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/alarms", tc.req)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestCreateAlarmConflictIs409(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/alarms", control.Request{Time: "07:00", Audio: "chime.mp3"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/alarms", control.Request{Time: "07:00", Audio: "chime.mp3"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second create = %d, want 409", resp.StatusCode)
	}
}

func TestUpcomingEndpoint(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	// 13:00 daily is inside the 24h window from the fixed Sunday noon clock.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/alarms", control.Request{Time: "13:00", Audio: "chime.mp3"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d", resp.StatusCode)
	}

	resp, fields := doJSON(t, http.MethodGet, ts.URL+"/api/alarms/upcoming", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upcoming status = %d", resp.StatusCode)
	}
	var ups []control.UpcomingView
	if err := json.Unmarshal(fields["upcoming"], &ups); err != nil || len(ups) != 1 {
		t.Fatalf("upcoming = %s", fields["upcoming"])
	}
	want := time.Date(2025, time.June, 15, 13, 0, 0, 0, time.UTC)
	if !ups[0].At.Equal(want) {
		t.Fatalf("At = %v, want %v", ups[0].At, want)
	}
}

func TestUpcomingHorizonQuery(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	// From the fixed Sunday noon clock: 14:00 is 2h away, 08:00 is 20h away.
	for _, tm := range []string{"14:00", "08:00"} {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/alarms", control.Request{Time: tm, Audio: "chime.mp3"})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create %s = %d", tm, resp.StatusCode)
		}
	}

	cases := []struct {
		name, query string
		want        int
	}{
		{"narrow window", "?horizon=4h", 1},
		{"default window", "", 2},
		{"invalid falls back to default", "?horizon=bogus", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, fields := doJSON(t, http.MethodGet, ts.URL+"/api/alarms/upcoming"+tc.query, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var ups []control.UpcomingView
			if err := json.Unmarshal(fields["upcoming"], &ups); err != nil {
				t.Fatalf("upcoming = %s", fields["upcoming"])
			}
			if len(ups) != tc.want {
				t.Fatalf("got %d occurrences, want %d", len(ups), tc.want)
			}
		})
	}
}

func TestAudioEndpoints(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	// upload
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "beep.wav")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte("beep-bytes"))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	// list contains seeded chime.mp3 and the new beep.wav
	resp2, fields := doJSON(t, http.MethodGet, ts.URL+"/api/audio", nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp2.StatusCode)
	}
	var clips []audio.Info
	if err := json.Unmarshal(fields["audio"], &clips); err != nil || len(clips) != 2 {
		t.Fatalf("audio list = %s", fields["audio"])
	}

	// rename
	resp2, _ = doJSON(t, http.MethodPut, ts.URL+"/api/audio/beep.wav", map[string]string{"name": "boop.wav"})
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("rename status = %d", resp2.StatusCode)
	}

	// stream
	sr, err := http.Get(ts.URL + "/api/audio/boop.wav")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer sr.Body.Close()
	if sr.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", sr.StatusCode)
	}

	// delete, then 404
	resp2, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/audio/boop.wav", nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp2.StatusCode)
	}
	resp2, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/audio/boop.wav", nil)
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp2.StatusCode)
	}
}

func TestUploadRejectsBadExtension(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "notes.txt")
	fw.Write([]byte("text"))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, fields := doJSON(t, http.MethodGet, ts.URL+"/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snap scheduler.Snapshot
	if err := json.Unmarshal(fields["scheduler"], &snap); err != nil {
		t.Fatalf("scheduler block = %s", fields["scheduler"])
	}
}
