package watch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/animus-labs/retrigger/internal/domain"
)

// Key identifies one watch: a job as seen from one session.
type Key struct {
	Session string `json:"session_id"`
	JobID   int64  `json:"job_id"`
}

type Info struct {
	Key
	StartedAt time.Time `json:"started_at"`
}

type handle struct {
	gen       uint64
	cancel    context.CancelFunc
	startedAt time.Time
}

// Manager runs at most one poller per key. Starting a watch for a key that is
// already watched replaces the old poller.
type Manager struct {
	src    StatusSource
	cfg    Config
	logger *slog.Logger
	parent context.Context

	mu      sync.Mutex
	gen     uint64
	watches map[Key]handle
	wg      sync.WaitGroup
}

func NewManager(ctx context.Context, src StatusSource, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{src: src, cfg: cfg, logger: logger, parent: ctx, watches: map[Key]handle{}}
}

// Start begins polling in the background. onUpdate sees every poll in order;
// onDone runs once with the terminal report or the reason polling stopped.
func (m *Manager) Start(key Key, onUpdate func(Update), onDone func(domain.StatusReport, error)) {
	ctx, cancel := context.WithCancel(m.parent)
	if m.cfg.MaxDuration > 0 {
		ctx, cancel = withTimeout(ctx, cancel, m.cfg.MaxDuration)
	}

	m.mu.Lock()
	if prev, ok := m.watches[key]; ok {
		prev.cancel()
	}
	m.gen++
	gen := m.gen
	m.watches[key] = handle{gen: gen, cancel: cancel, startedAt: time.Now().UTC()}
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("watch started", "session_id", key.Session, "job_id", key.JobID, "interval", m.cfg.Interval.String())
	go func() {
		defer m.wg.Done()
		defer cancel()
		report, err := Poll(ctx, m.src, key.JobID, m.cfg.Interval, m.logger, onUpdate)

		m.mu.Lock()
		if cur, ok := m.watches[key]; ok && cur.gen == gen {
			delete(m.watches, key)
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Info("watch stopped", "session_id", key.Session, "job_id", key.JobID, "reason", err.Error())
		}
		if onDone != nil {
			onDone(report, err)
		}
	}()
}

func (m *Manager) Stop(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.watches[key]
	if ok {
		h.cancel()
		delete(m.watches, key)
	}
	return ok
}

// StopJob stops every session's watch of jobID.
func (m *Manager) StopJob(jobID int64) int {
	return m.stopWhere(func(k Key) bool { return k.JobID == jobID })
}

func (m *Manager) StopSession(session string) int {
	return m.stopWhere(func(k Key) bool { return k.Session == session })
}

// StopAll cancels every watch and waits for the pollers to exit.
func (m *Manager) StopAll() {
	m.stopWhere(func(Key) bool { return true })
	m.wg.Wait()
}

func (m *Manager) IsActive(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[key]
	return ok
}

func (m *Manager) Active() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.watches))
	for k, h := range m.watches {
		out = append(out, Info{Key: k, StartedAt: h.startedAt})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].JobID != out[j].JobID {
			return out[i].JobID < out[j].JobID
		}
		return out[i].Session < out[j].Session
	})
	return out
}

func (m *Manager) stopWhere(match func(Key) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, h := range m.watches {
		if match(k) {
			h.cancel()
			delete(m.watches, k)
			n++
		}
	}
	return n
}

func withTimeout(ctx context.Context, cancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	tctx, tcancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		tcancel()
		cancel()
	}
}
