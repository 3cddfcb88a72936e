package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"orangeclock/internal/eventbus"
	rtsup "orangeclock/internal/runtime/supervisor"
	"orangeclock/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled     bool
	WebhookURL  string
	Workers     int
	QueueSize   int
	RatePerSec  int
	DedupWindow time.Duration
	SendTimeout time.Duration
}

// Message is the webhook payload for one alarm event.
type Message struct {
	Type    string    `json:"type"`
	AlarmID int64     `json:"alarm_id,omitempty"`
	Audio   string    `json:"audio,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Service implements an async delivery pipeline:
// queue + worker pool + rate limit + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	client  *http.Client
	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Message
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	sent    atomic.Uint64
	dropped atomic.Uint64
	deduped atomic.Uint64
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		client: &http.Client{},
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start spins up the workers and, when a bus is given, a consumer that
// translates alarm events into notifications. Idempotent.
func (s *Service) Start(ctx context.Context, bus eventbus.Bus) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Message, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// delivery failures must not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.Go0(name, func(c context.Context) {
			s.workerLoop(c, q)
		})
	}

	if bus != nil {
		sup.GoRestart("bus.consume", func(c context.Context) error {
			s.consumeBus(c, bus)
			return c.Err()
		})
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queue so workers drain.
		s.sendWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Notify enqueues one message. Returns ErrQueueFull instead of blocking.
func (s *Service) Notify(ctx context.Context, m Message) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if m.At.IsZero() {
		m.At = time.Now()
	}
	if window > 0 && !s.dedupAllow(dedupKey(m), window) {
		s.deduped.Add(1)
		s.log.Debug("notification deduped",
			logx.String("type", m.Type), logx.Int64("alarm", m.AlarmID))
		return nil
	}

	select {
	case q <- m:
		return nil
	default:
		s.dropped.Add(1)
		s.log.Warn("notification dropped",
			logx.String("type", m.Type), logx.Int64("alarm", m.AlarmID))
		return ErrQueueFull
	}
}

// Stats reports delivery counters.
func (s *Service) Stats() (sent, dropped, deduped uint64) {
	return s.sent.Load(), s.dropped.Load(), s.deduped.Load()
}

func (s *Service) consumeBus(ctx context.Context, bus eventbus.Bus) {
	events, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m, ok := translate(ev)
			if !ok {
				continue
			}
			_ = s.Notify(ctx, m)
		}
	}
}

// translate maps a bus event onto a webhook message. Unknown event types are
// not forwarded.
func translate(ev eventbus.Event) (Message, bool) {
	switch ev.Type {
	case eventbus.TypeAlarmFired, eventbus.TypeAlarmFailed:
		m := Message{Type: ev.Type, At: ev.Time}
		if p, ok := ev.Data.(eventbus.AlarmEvent); ok {
			m.AlarmID = p.ID
			m.Audio = p.AudioRef
			m.Error = p.Error
		}
		return m, true
	case eventbus.TypeAlarmsReloaded:
		return Message{Type: ev.Type, At: ev.Time}, true
	}
	return Message{}, false
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, m)
		}
	}
}

func (s *Service) deliver(ctx context.Context, m Message) {
	s.mu.Lock()
	limiter := s.limiter
	url := s.cfg.WebhookURL
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	if url == "" {
		return
	}
	if err := limiter.Wait(ctx); err != nil {
		return
	}

	body, err := json.Marshal(m)
	if err != nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(sctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.log.Warn("notification request build failed", logx.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("notification delivery failed",
			logx.String("type", m.Type), logx.Err(err))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.log.Warn("notification rejected by webhook",
			logx.String("type", m.Type), logx.Int("status", resp.StatusCode))
		return
	}
	s.sent.Add(1)
}

func dedupKey(m Message) string {
	return fmt.Sprintf("%s|%d|%s", m.Type, m.AlarmID, m.Error)
}

// dedupAllow returns false when the key was seen inside the window. The
// cache prunes lazily on each call.
func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	for k, until := range s.dedup {
		if now.After(until) {
			delete(s.dedup, k)
		}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)
	return true
}
