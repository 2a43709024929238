package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"assessflow/internal/agent"
	"assessflow/internal/agent/builtin"
	"assessflow/internal/config"
	"assessflow/internal/events"
	"assessflow/internal/logging"
	"assessflow/internal/queue"
	"assessflow/internal/recovery"
	"assessflow/internal/store"
	"assessflow/internal/workflow"
)

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	backend  store.Backend
	registry *agent.Registry
	fs       afero.Fs
}

// WithBackend supplies an already-open persistence backend.
func WithBackend(backend store.Backend) Option {
	return func(o *options) { o.backend = backend }
}

// WithRegistry replaces the built-in agents.
func WithRegistry(registry *agent.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithFs sets the filesystem used for the event archive and log retention.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// Daemon owns every long-lived component and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	fs        afero.Fs
	store     store.Backend
	router    *events.Router
	archive   *events.Archive
	pool      *agent.Pool
	workflows *workflow.Manager
	queue     *queue.Manager
	deduper   *events.Deduper

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	stopped   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds the component graph from cfg. Nothing runs until Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	backend := o.backend
	if backend == nil {
		opened, err := store.OpenBackend(cfg)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		backend = opened
	}

	registry := o.registry
	if registry == nil {
		reg, err := builtin.NewRegistry()
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		registry = reg
	}

	router := events.NewRouter(cfg.Events.BufferSize, logger)
	var archive *events.Archive
	if cfg.Events.Archive {
		opened, err := events.OpenArchive(o.fs, cfg.EventArchiveDir(), logger)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		archive = opened
		router.AddSink(archive)
	}

	pool := agent.NewPool(registry, agent.OptionsFromConfig(cfg), router, logger)
	manager := workflow.NewManager(pool, logger,
		workflow.WithStore(backend),
		workflow.WithEmitter(router),
		workflow.WithMaxConcurrent(cfg.Workflow.MaxConcurrent),
		workflow.WithRecovery(
			recovery.WithMaxAttempts(cfg.Recovery.MaxAttempts),
			recovery.WithStore(backend),
		),
	)
	sched := queue.NewManager(manager, router, logger, queue.OptionsFromConfig(cfg))

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		fs:        o.fs,
		store:     backend,
		router:    router,
		archive:   archive,
		pool:      pool,
		workflows: manager,
		queue:     sched,
		deduper:   events.NewDeduper(cfg.Events.BufferSize),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the lock, restores persisted state and launches the pool,
// the event persister and the scheduling loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.stopped.Load() {
		return errors.New("daemon was stopped; construct a new one to restart")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another assessflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.pool.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start agent pool: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.persistEvents(runCtx, 0)
	}()

	pending, err := d.workflows.Restore(runCtx)
	if err != nil {
		cancel()
		d.pool.Stop()
		d.wg.Wait()
		_ = d.lock.Unlock()
		return fmt.Errorf("restore workflows: %w", err)
	}
	for _, id := range pending {
		if err := d.queue.Enqueue(runCtx, id); err != nil {
			logging.WarnWithContext(d.logger, "failed to re-enqueue restored workflow", "restore_enqueue_failed",
				logging.String("workflow_id", id),
				logging.String(logging.FieldErrorHint, "resume the workflow manually"),
				logging.Error(err),
			)
		}
	}

	if err := d.queue.Start(runCtx); err != nil {
		cancel()
		d.workflows.Stop()
		d.pool.Stop()
		d.wg.Wait()
		_ = d.lock.Unlock()
		return fmt.Errorf("start queue: %w", err)
	}

	d.cancel = cancel
	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	removed := d.pruneLogs()
	d.logger.Info("assessflow daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("store", d.cfg.Store.Driver),
		logging.Int("restored_pending", len(pending)),
		logging.Int("logs_pruned", removed),
	)
	return nil
}

// Stop halts scheduling, interrupts running stages and releases the lock.
// Interrupted workflows stay InProgress and are reclaimed on the next Start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.queue.Stop()
	d.workflows.Stop()
	d.pool.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.stopped.Store(true)
	d.logger.Info("assessflow daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the store and archive.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.archive != nil {
		errs = append(errs, d.archive.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// persistEvents copies routed events into the store. Delivery is
// at-least-once; the deduper and the store's id check absorb redeliveries.
func (d *Daemon) persistEvents(ctx context.Context, since uint64) {
	_, err := d.router.Consume(ctx, "store", since, func(ctx context.Context, evt events.Event) error {
		if d.deduper.Seen(evt) {
			return nil
		}
		if err := d.store.SaveEvent(ctx, evt); err != nil {
			d.deduper.Forget(evt)
			return err
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("event persistence stopped", logging.Error(err))
	}
}

func (d *Daemon) pruneLogs() int {
	targets := []logging.RetentionTarget{{
		Dir:     d.cfg.Paths.LogDir,
		Pattern: "*.log",
		Exclude: []string{filepath.Join(d.cfg.Paths.LogDir, "assessflow.log")},
	}}
	if d.archive != nil {
		targets = append(targets, logging.RetentionTarget{
			Dir:     d.cfg.EventArchiveDir(),
			Pattern: "*.jsonl",
			Exclude: []string{d.archive.Path()},
		})
	}
	return logging.CleanupOldLogs(d.fs, d.logger, d.cfg.Logging.RetentionDays, targets...)
}

// Status is the daemon's runtime summary.
type Status struct {
	Running   bool         `json:"running"`
	PID       int          `json:"pid"`
	StartedAt time.Time    `json:"started_at,omitzero"`
	LockPath  string       `json:"lock_path"`
	Store     string       `json:"store"`
	Queue     queue.Status `json:"queue"`
}

// Status reports whether the daemon runs and the current queue snapshot.
func (d *Daemon) Status() Status {
	return Status{
		Running:   d.running.Load(),
		PID:       os.Getpid(),
		StartedAt: d.startedAt,
		LockPath:  d.lockPath,
		Store:     d.cfg.Store.Driver,
		Queue:     d.queue.GetQueueStatus(),
	}
}
