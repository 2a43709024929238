package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.jetify.com/typeid"

	"assessflow/internal/agent"
	"assessflow/internal/events"
	"assessflow/internal/logging"
	"assessflow/internal/recovery"
	"assessflow/internal/services"
)

// DefaultMaxConcurrent is the InProgress ceiling when none is configured.
const DefaultMaxConcurrent = 10

// Dispatcher runs one stage on an agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, input agent.StageInput) (agent.Output, error)
}

// Store persists workflows. SaveWorkflow upserts the workflow and all of
// its stages.
type Store interface {
	SaveWorkflow(ctx context.Context, wf *Workflow) error
	ListWorkflows(ctx context.Context, statuses ...Status) ([]*Workflow, error)
}

// Filter narrows ListWorkflows. Zero fields match everything.
type Filter struct {
	Status      Status
	ClientID    string
	TherapistID string
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists every workflow change through store.
func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithEmitter publishes lifecycle events to emitter. Nil keeps the no-op emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(m *Manager) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

// WithValidator checks stage output before a stage is marked Completed.
func WithValidator(v OutputValidator) Option {
	return func(m *Manager) {
		if v != nil {
			m.validator = v
		}
	}
}

// WithMaxConcurrent sets the active-workflow ceiling; values below 1 are ignored.
func WithMaxConcurrent(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxConcurrent = n
		}
	}
}

// WithRecovery passes options through to the embedded recovery Handler.
func WithRecovery(opts ...recovery.Option) Option {
	return func(m *Manager) { m.recoveryOpts = append(m.recoveryOpts, opts...) }
}

// Manager owns workflow state and runs stage loops.
type Manager struct {
	dispatcher    Dispatcher
	store         Store
	emitter       events.Emitter
	validator     OutputValidator
	handler       *recovery.Handler
	logger        *slog.Logger
	maxConcurrent int
	recoveryOpts  []recovery.Option

	mu        sync.RWMutex
	workflows map[string]*Workflow
	runs      map[string]context.CancelFunc
	stopped   bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager constructs a manager that dispatches stages through dispatcher.
// The manager builds its own recovery Handler and acts as its Controller.
func NewManager(dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dispatcher:    dispatcher,
		emitter:       events.Nop{},
		validator:     DefaultValidator,
		logger:        logging.NewComponentLogger(logger, "workflow"),
		maxConcurrent: DefaultMaxConcurrent,
		workflows:     make(map[string]*Workflow),
		runs:          make(map[string]context.CancelFunc),
		baseCtx:       baseCtx,
		baseCancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	handlerOpts := append([]recovery.Option{recovery.WithEmitter(m.emitter)}, m.recoveryOpts...)
	m.handler = recovery.NewHandler(m, logger, handlerOpts...)
	return m
}

// Handler exposes the recovery handler for error reporting.
func (m *Manager) Handler() *recovery.Handler {
	return m.handler
}

func newWorkflowID() string {
	id, err := typeid.WithPrefix("wf")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// CreateWorkflow registers a new Pending workflow with the default stages.
func (m *Manager) CreateWorkflow(ctx context.Context, clientID, therapistID, assessmentType string, metadata map[string]any) (*Workflow, error) {
	clientID = strings.TrimSpace(clientID)
	therapistID = strings.TrimSpace(therapistID)
	assessmentType = strings.ToLower(strings.TrimSpace(assessmentType))
	switch {
	case clientID == "":
		return nil, services.Wrap(services.ErrValidation, "workflow", "create", "client_id is required", nil)
	case therapistID == "":
		return nil, services.Wrap(services.ErrValidation, "workflow", "create", "therapist_id is required", nil)
	case assessmentType == "":
		return nil, services.Wrap(services.ErrValidation, "workflow", "create", "assessment_type is required", nil)
	}

	m.mu.RLock()
	active := m.activeLocked()
	m.mu.RUnlock()
	if active >= m.maxConcurrent {
		return nil, services.Wrap(services.ErrCapacityExceeded, "workflow", "create",
			fmt.Sprintf("%d of %d workflows in progress", active, m.maxConcurrent), nil)
	}

	wf := &Workflow{
		ID:             newWorkflowID(),
		ClientID:       clientID,
		TherapistID:    therapistID,
		AssessmentType: assessmentType,
		Status:         StatusPending,
		Stages:         DefaultStages(),
		Metadata:       cloneMap(metadata),
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.persist(ctx, wf); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.workflows[wf.ID] = wf
	snapshot := wf.Clone()
	m.mu.Unlock()

	logging.WithContext(services.WithWorkflowID(ctx, wf.ID), m.logger).Info("workflow created",
		logging.String(logging.FieldEventType, "workflow_created"),
		logging.String("client_id", clientID),
		logging.String("therapist_id", therapistID),
		logging.String("assessment_type", assessmentType),
	)
	m.emit(events.WorkflowCreated, wf.ID, "", map[string]any{
		"client_id":       clientID,
		"therapist_id":    therapistID,
		"assessment_type": assessmentType,
	})
	return snapshot, nil
}

// StartWorkflow moves a Pending workflow to InProgress and launches its
// stage loop. It fails with ErrCapacityExceeded at the ceiling.
func (m *Manager) StartWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "workflow", "start", "manager stopped", nil)
	}
	wf, ok := m.workflows[id]
	if !ok {
		m.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "workflow", "start", id, nil)
	}
	if wf.Status != StatusPending {
		m.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "workflow", "start",
			fmt.Sprintf("workflow %s is %s", id, wf.Status), nil)
	}
	if active := m.activeLocked(); active >= m.maxConcurrent {
		m.mu.Unlock()
		return services.Wrap(services.ErrCapacityExceeded, "workflow", "start",
			fmt.Sprintf("%d of %d workflows in progress", active, m.maxConcurrent), nil)
	}
	now := time.Now().UTC()
	wf.Status = StatusInProgress
	wf.StartedAt = &now
	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.runs[id] = cancel
	m.wg.Add(1)
	snapshot := wf.Clone()
	m.mu.Unlock()

	if err := m.persist(ctx, snapshot); err != nil {
		m.mu.Lock()
		if wf.Status == StatusInProgress {
			wf.Status = StatusPending
			wf.StartedAt = nil
		}
		delete(m.runs, id)
		m.mu.Unlock()
		cancel()
		m.wg.Done()
		return err
	}

	logging.WithContext(services.WithWorkflowID(ctx, id), m.logger).Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.String("therapist_id", snapshot.TherapistID),
	)
	m.emit(events.WorkflowStarted, id, "", nil)
	go m.run(services.WithWorkflowID(runCtx, id), id)
	return nil
}

// GetWorkflow returns a copy of the workflow.
func (m *Manager) GetWorkflow(id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "get", id, nil)
	}
	return wf.Clone(), nil
}

// ListWorkflows returns copies matching filter ordered by creation time.
func (m *Manager) ListWorkflows(filter Filter) []*Workflow {
	m.mu.RLock()
	out := make([]*Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		if filter.ClientID != "" && wf.ClientID != filter.ClientID {
			continue
		}
		if filter.TherapistID != "" && wf.TherapistID != filter.TherapistID {
			continue
		}
		out = append(out, wf.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stop cancels every running stage loop and waits for them to exit.
// Interrupted workflows stay InProgress and are reclaimed by Restore.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.baseCancel()
	m.wg.Wait()
}

func (m *Manager) activeLocked() int {
	active := 0
	for _, wf := range m.workflows {
		if wf.Status == StatusInProgress {
			active++
		}
	}
	return active
}

func (m *Manager) persist(ctx context.Context, wf *Workflow) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveWorkflow(ctx, wf); err != nil {
		return services.Wrap(services.ErrDatabase, "workflow", "persist", wf.ID, err)
	}
	return nil
}

func (m *Manager) emit(eventType events.Type, workflowID, stageID string, payload map[string]any) {
	m.emitter.Publish(events.Event{
		Type:       eventType,
		WorkflowID: workflowID,
		StageID:    stageID,
		Payload:    payload,
	})
}
