package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
)

const (
	DefaultSweepSchedule = "*/15 * * * *"
	DefaultFlushSchedule = "@every 5s"
)

// Sweeper runs the periodic subscription cleanup.
type Sweeper interface {
	SweepUsers(ctx context.Context, limit int) (billing.SweepResult, error)
}

// Flusher drains buffered counters into the database.
type Flusher interface {
	Flush(ctx context.Context) error
}

// ManagerConfig configures the scheduled tasks of a Manager.
type ManagerConfig struct {
	SweepSchedule string
	SweepLimit    int
	SweepTimeout  time.Duration
	FlushSchedule string
}

// Manager owns the job queue and the cron scheduled background tasks.
type Manager struct {
	queue   *Queue
	sweeper Sweeper
	flusher Flusher
	cfg     ManagerConfig
	log     *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

func NewManager(queue *Queue, sweeper Sweeper, flusher Flusher, cfg ManagerConfig, log *zap.Logger) *Manager {
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.FlushSchedule == "" {
		cfg.FlushSchedule = DefaultFlushSchedule
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{queue: queue, sweeper: sweeper, flusher: flusher, cfg: cfg, log: log}
}

func newScheduler() *cron.Cron {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
}

// schedule registers the sweep and flush tasks on c.
func (m *Manager) schedule(c *cron.Cron) error {
	if m.sweeper != nil {
		if _, err := c.AddFunc(m.cfg.SweepSchedule, m.runSweep); err != nil {
			return err
		}
	}
	if m.flusher != nil {
		if _, err := c.AddFunc(m.cfg.FlushSchedule, m.runFlush); err != nil {
			return err
		}
	}
	return nil
}

// Start starts the job queue and background tasks
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	c := newScheduler()
	if err := m.schedule(c); err != nil {
		return err
	}
	if m.queue != nil {
		m.queue.Start()
	}
	c.Start()
	m.cron = c
	m.running = true
	m.log.Info("job manager started",
		zap.String("sweep", m.cfg.SweepSchedule), zap.String("flush", m.cfg.FlushSchedule))
	return nil
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	<-m.cron.Stop().Done()
	if m.queue != nil {
		m.queue.Stop()
	}
	if m.flusher != nil {
		m.runFlush()
	}
	m.running = false
	m.log.Info("job manager stopped")
}

func (m *Manager) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SweepTimeout)
	defer cancel()
	res, err := m.sweeper.SweepUsers(ctx, m.cfg.SweepLimit)
	if err != nil {
		m.log.Error("subscription sweep failed", zap.Error(err))
		return
	}
	m.log.Debug("subscription sweep finished",
		zap.Int("users", res.Users), zap.Int("pruned", res.Pruned), zap.Int("failed", res.Failed))
}

func (m *Manager) runFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.flusher.Flush(ctx); err != nil {
		m.log.Error("counter flush failed", zap.Error(err))
	}
}

// RunSweepOnce exposes a manual trigger for a single sweep (admin, CLI).
func (m *Manager) RunSweepOnce() {
	if m.sweeper != nil {
		m.runSweep()
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
