package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"assessflow/internal/config"
	"assessflow/internal/events"
	"assessflow/internal/logging"
	"assessflow/internal/services"
	"assessflow/internal/workflow"
)

// Workflows is the slice of the workflow manager the queue drives.
type Workflows interface {
	GetWorkflow(id string) (*workflow.Workflow, error)
	ListWorkflows(filter workflow.Filter) []*workflow.Workflow
	StartWorkflow(ctx context.Context, id string) error
	StatusCounts() map[workflow.Status]int
	ActiveCount() int
	Capacity() int
	TherapistLoad() map[string]int
}

// Options tunes scheduling.
type Options struct {
	TickInterval       time.Duration
	ErrorBackoff       time.Duration
	ImmediateThreshold int
	StallThresholds    map[string]time.Duration
	Now                func() time.Time
}

// OptionsFromConfig maps the [queue] section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		TickInterval:       cfg.TickInterval(),
		ErrorBackoff:       cfg.ErrorBackoff(),
		ImmediateThreshold: cfg.Queue.ImmediateThreshold,
		StallThresholds:    cfg.StallThresholds(),
	}
}

// TickResult reports what one scheduling pass did.
type TickResult struct {
	Admitted []string
	Pruned   []string
	Stalled  []Stall
}

// Manager holds the admission pool and runs scheduling passes.
type Manager struct {
	workflows Workflows
	emitter   events.Emitter
	logger    *slog.Logger
	opts      Options

	tickMu sync.Mutex

	mu       sync.Mutex
	pool     map[string]struct{}
	stalled  map[string]struct{}
	lastTick time.Time
	lastErr  string
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager constructs a queue over workflows.
func NewManager(workflows Workflows, emitter events.Emitter, logger *slog.Logger, opts Options) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 5 * time.Minute
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Minute
	}
	if opts.ImmediateThreshold <= 0 {
		opts.ImmediateThreshold = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		workflows: workflows,
		emitter:   emitter,
		logger:    logging.NewComponentLogger(logger, "queue"),
		opts:      opts,
		pool:      make(map[string]struct{}),
		stalled:   make(map[string]struct{}),
	}
}

// Enqueue adds a Pending workflow to the admission pool. While few
// workflows are active it schedules immediately.
func (m *Manager) Enqueue(ctx context.Context, id string) error {
	wf, err := m.workflows.GetWorkflow(id)
	if err != nil {
		return err
	}
	if wf.Status != workflow.StatusPending {
		return services.Wrap(services.ErrInvalidState, "queue", "enqueue",
			fmt.Sprintf("workflow %s is %s", id, wf.Status), nil)
	}
	m.mu.Lock()
	m.pool[id] = struct{}{}
	pooled := len(m.pool)
	m.mu.Unlock()

	m.logger.Info("workflow enqueued",
		logging.String(logging.FieldEventType, "workflow_enqueued"),
		logging.String("workflow_id", id),
		logging.String("assessment_type", wf.AssessmentType),
		logging.Int("pooled", pooled),
	)
	m.emitter.Publish(events.Event{
		Type:       events.WorkflowEnqueued,
		WorkflowID: id,
		Payload: map[string]any{
			"therapist_id":    wf.TherapistID,
			"assessment_type": wf.AssessmentType,
		},
	})

	if m.workflows.ActiveCount() < m.opts.ImmediateThreshold {
		if _, err := m.Tick(ctx); err != nil {
			logging.WarnWithContext(m.logger, "immediate scheduling pass failed", "queue_tick_failed",
				logging.String(logging.FieldErrorHint, "the next interval tick retries admission"),
				logging.Error(err),
			)
		}
	}
	return nil
}

// Pooled returns the ids waiting for admission.
func (m *Manager) Pooled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pool))
	for id := range m.pool {
		ids = append(ids, id)
	}
	return ids
}

// Tick runs one scheduling pass. Passes never overlap.
func (m *Manager) Tick(ctx context.Context) (TickResult, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	now := m.opts.Now()
	result := TickResult{Stalled: m.detectStalls(now)}

	load := m.workflows.TherapistLoad()
	entries, pruned := m.candidates(now, load)
	result.Pruned = pruned

	remaining := m.workflows.Capacity() - m.workflows.ActiveCount()
	var tickErr error
	for _, entry := range entries {
		if remaining <= 0 || ctx.Err() != nil {
			break
		}
		err := m.workflows.StartWorkflow(ctx, entry.WorkflowID)
		switch {
		case err == nil:
			m.remove(entry.WorkflowID)
			result.Admitted = append(result.Admitted, entry.WorkflowID)
			remaining--
			m.logger.Info("workflow admitted",
				logging.String(logging.FieldEventType, "workflow_admitted"),
				logging.String("workflow_id", entry.WorkflowID),
				logging.String("therapist_id", entry.TherapistID),
				logging.Any("score", entry.Score),
			)
		case errors.Is(err, services.ErrCapacityExceeded):
			remaining = 0
		case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrNotFound):
			m.remove(entry.WorkflowID)
			result.Pruned = append(result.Pruned, entry.WorkflowID)
		default:
			tickErr = errors.Join(tickErr, err)
		}
	}

	m.mu.Lock()
	m.lastTick = now
	m.lastErr = ""
	if tickErr != nil {
		m.lastErr = tickErr.Error()
	}
	m.mu.Unlock()
	return result, tickErr
}

func (m *Manager) candidates(now time.Time, load map[string]int) ([]Entry, []string) {
	var pruned []string
	entries := make([]Entry, 0)
	for _, id := range m.Pooled() {
		wf, err := m.workflows.GetWorkflow(id)
		if err != nil || wf.Status != workflow.StatusPending {
			m.remove(id)
			pruned = append(pruned, id)
			continue
		}
		entries = append(entries, entryFor(wf, now, load))
	}
	rank(entries)
	return entries, pruned
}

func entryFor(wf *workflow.Workflow, now time.Time, load map[string]int) Entry {
	therapistLoad := load[wf.TherapistID]
	return Entry{
		WorkflowID:     wf.ID,
		TherapistID:    wf.TherapistID,
		AssessmentType: wf.AssessmentType,
		CreatedAt:      wf.CreatedAt,
		TherapistLoad:  therapistLoad,
		Score:          Score(therapistLoad, now.Sub(wf.CreatedAt), wf.AssessmentType),
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.pool, id)
	m.mu.Unlock()
}

// Run ticks until ctx is cancelled. A failed tick is followed by the error
// backoff instead of the regular interval.
func (m *Manager) Run(ctx context.Context) {
	for {
		wait := m.opts.TickInterval
		if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "scheduling pass failed", "queue_tick_failed",
				logging.String(logging.FieldErrorHint, "admission resumes after the backoff"),
				logging.Duration("backoff", m.opts.ErrorBackoff),
				logging.Error(err),
			)
			wait = m.opts.ErrorBackoff
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Start launches Run in the background.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("queue already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Run(runCtx)
	}()
	m.logger.Info("queue started",
		logging.String(logging.FieldEventType, "queue_started"),
		logging.Duration("tick_interval", m.opts.TickInterval),
	)
	return nil
}

// Stop cancels the tick loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("queue stopped", logging.String(logging.FieldEventType, "queue_stopped"))
}
