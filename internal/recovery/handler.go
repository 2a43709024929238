package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"assessflow/internal/events"
	"assessflow/internal/logging"
	"assessflow/internal/services"
)

// DefaultMaxAttempts is the per-workflow recovery budget.
const DefaultMaxAttempts = 3

// Outcome is the result of handling one failure.
type Outcome struct {
	Record    ErrorRecord
	Recovered bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxAttempts overrides the per-workflow budget.
func WithMaxAttempts(n int) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.maxAttempts = n
		}
	}
}

// WithStore persists records and attempts.
func WithStore(store Store) Option {
	return func(h *Handler) { h.store = store }
}

// WithEmitter routes error and recovery events.
func WithEmitter(emitter events.Emitter) Option {
	return func(h *Handler) {
		if emitter != nil {
			h.emitter = emitter
		}
	}
}

// Handler records failures and runs recovery strategies.
type Handler struct {
	controller  Controller
	store       Store
	emitter     events.Emitter
	logger      *slog.Logger
	maxAttempts int
	strategies  map[Category]strategy

	mu            sync.Mutex
	records       map[string][]*ErrorRecord
	byID          map[string]*ErrorRecord
	counts        map[string]int
	budget        map[string]int
	orphans       []RecoveryAttempt
	totalAttempts int
}

// NewHandler builds a handler that drives controller.
func NewHandler(controller Controller, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &Handler{
		controller:  controller,
		emitter:     events.Nop{},
		logger:      logging.NewComponentLogger(logger, "recovery"),
		maxAttempts: DefaultMaxAttempts,
		strategies:  defaultStrategies(),
		records:     make(map[string][]*ErrorRecord),
		byID:        make(map[string]*ErrorRecord),
		counts:      make(map[string]int),
		budget:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MaxAttempts reports the configured budget.
func (h *Handler) MaxAttempts() int {
	return h.maxAttempts
}

// HandleError records err against the workflow, fails the workflow for High
// and Critical severities, and attempts recovery unless severity is Critical.
func (h *Handler) HandleError(ctx context.Context, workflowID, stageID string, err error, category Category, severity Severity, errCtx map[string]string) Outcome {
	if err == nil {
		err = services.Wrap(services.ErrSystem, "recovery", "handle error", "nil error reported", nil)
	}
	kind := services.Kind(err)
	record := &ErrorRecord{
		ID:         newID("err"),
		WorkflowID: workflowID,
		StageID:    stageID,
		Message:    err.Error(),
		Kind:       kind,
		Category:   category,
		Severity:   severity,
		Context:    maps.Clone(errCtx),
		Timestamp:  time.Now().UTC(),
	}

	h.mu.Lock()
	h.records[workflowID] = append(h.records[workflowID], record)
	h.byID[record.ID] = record
	h.counts[countKey(category, kind)]++
	persisted := record.Clone()
	h.mu.Unlock()

	ctx = services.WithWorkflowID(ctx, workflowID)
	if stageID != "" {
		ctx = services.WithStage(ctx, stageID)
	}
	logger := logging.WithContext(ctx, h.logger)

	if h.store != nil {
		if storeErr := h.store.AppendError(ctx, persisted); storeErr != nil {
			logging.ErrorWithContext(logger, "persist error record failed", "error_record_persist_failed",
				logging.String(logging.FieldErrorHint, "check database access; record kept in memory"),
				logging.String("error_id", record.ID),
				logging.Error(storeErr),
			)
		}
	}

	logging.WarnWithContext(logger, "workflow error recorded", "error_recorded",
		logging.String(logging.FieldErrorHint, hintFor(category)),
		logging.String(logging.FieldImpact, impactFor(severity)),
		logging.String("error_id", record.ID),
		logging.String("category", category.String()),
		logging.String("severity", severity.String()),
		logging.String("kind", kind),
		logging.Error(err),
	)
	h.emitter.Publish(events.Event{
		Type:       events.ErrorRecorded,
		WorkflowID: workflowID,
		StageID:    stageID,
		Payload: map[string]any{
			"error_id": record.ID,
			"category": category.String(),
			"severity": severity.String(),
			"kind":     kind,
			"message":  record.Message,
		},
	})

	if severity.Terminal() && h.controller != nil {
		if failErr := h.controller.FailWorkflow(ctx, workflowID, category, severity, record.Message); failErr != nil {
			logger.Debug("fail workflow skipped", logging.Error(failErr))
		}
	}

	recovered := false
	if severity != SeverityCritical {
		recovered = h.AttemptRecovery(ctx, workflowID, err, category)
	}

	h.mu.Lock()
	out := record.Clone()
	h.mu.Unlock()
	return Outcome{Record: out, Recovered: recovered}
}

// AttemptRecovery spends one unit of the workflow's budget on the strategy
// for category. Once the budget is gone it returns false without running a
// strategy. Every call appends exactly one attempt.
func (h *Handler) AttemptRecovery(ctx context.Context, workflowID string, err error, category Category) bool {
	h.mu.Lock()
	exhausted := h.budget[workflowID] >= h.maxAttempts
	if !exhausted {
		h.budget[workflowID]++
	}
	var target target
	target.workflowID = workflowID
	target.err = err
	if recs := h.records[workflowID]; len(recs) > 0 {
		newest := recs[len(recs)-1]
		target.errorID = newest.ID
		target.stageID = newest.StageID
	}
	h.mu.Unlock()

	attempt := RecoveryAttempt{
		ID:         newID("rec"),
		ErrorID:    target.errorID,
		WorkflowID: workflowID,
	}
	if exhausted {
		attempt.Strategy = StrategyBudgetExhausted
		attempt.Notes = fmt.Sprintf("recovery budget of %d attempts exhausted", h.maxAttempts)
	} else {
		attempt.Strategy, attempt.Success, attempt.Notes = h.runStrategy(ctx, category, target)
	}
	attempt.Timestamp = time.Now().UTC()

	h.recordAttempt(ctx, attempt)
	return attempt.Success
}

func (h *Handler) runStrategy(ctx context.Context, category Category, t target) (name string, ok bool, notes string) {
	s, found := h.strategies[category]
	if !found {
		return StrategyNone, false, fmt.Sprintf("no recovery strategy for %s", category)
	}
	name = s.name
	defer func() {
		if r := recover(); r != nil {
			ok = false
			notes = fmt.Sprintf("strategy panicked: %v", r)
		}
	}()
	if h.controller == nil {
		return name, false, "no workflow controller"
	}
	ok, notes, err := s.run(ctx, h.controller, t)
	if err != nil {
		return name, false, err.Error()
	}
	return name, ok, notes
}

func (h *Handler) recordAttempt(ctx context.Context, attempt RecoveryAttempt) {
	h.mu.Lock()
	if rec, ok := h.byID[attempt.ErrorID]; ok {
		rec.Attempts = append(rec.Attempts, attempt)
	} else {
		h.orphans = append(h.orphans, attempt)
	}
	h.totalAttempts++
	used := h.budget[attempt.WorkflowID]
	h.mu.Unlock()

	logger := logging.WithContext(ctx, h.logger)
	if h.store != nil {
		if err := h.store.AppendRecoveryAttempt(ctx, attempt); err != nil {
			logging.ErrorWithContext(logger, "persist recovery attempt failed", "recovery_attempt_persist_failed",
				logging.String(logging.FieldErrorHint, "check database access; attempt kept in memory"),
				logging.String("attempt_id", attempt.ID),
				logging.Error(err),
			)
		}
	}

	logger.Info("recovery attempted",
		logging.String(logging.FieldEventType, "recovery_attempted"),
		logging.String("strategy", attempt.Strategy),
		logging.Bool("success", attempt.Success),
		logging.Int("attempts_used", used),
		logging.Int("max_attempts", h.maxAttempts),
		logging.String("notes", attempt.Notes),
	)
	h.emitter.Publish(events.Event{
		Type:       events.RecoveryAttempted,
		WorkflowID: attempt.WorkflowID,
		Payload: map[string]any{
			"attempt_id": attempt.ID,
			"error_id":   attempt.ErrorID,
			"strategy":   attempt.Strategy,
			"success":    attempt.Success,
			"notes":      attempt.Notes,
		},
	})
}

// AttemptsUsed reports how much of the workflow's budget is spent.
func (h *Handler) AttemptsUsed(workflowID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.budget[workflowID]
}

// ResolveError closes a record with operator notes.
func (h *Handler) ResolveError(ctx context.Context, errorID, notes string) error {
	now := time.Now().UTC()
	h.mu.Lock()
	rec, ok := h.byID[errorID]
	if !ok {
		h.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "recovery", "resolve error", fmt.Sprintf("error %s", errorID), nil)
	}
	if rec.Resolved() {
		h.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "recovery", "resolve error", fmt.Sprintf("error %s already resolved", errorID), nil)
	}
	rec.ResolvedAt = &now
	rec.ResolutionNotes = notes
	workflowID := rec.WorkflowID
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.ResolveError(ctx, errorID, now, notes); err != nil {
			return services.Wrap(services.ErrDatabase, "recovery", "resolve error", "persist resolution", err)
		}
	}
	h.emitter.Publish(events.Event{
		Type:       events.ErrorResolved,
		WorkflowID: workflowID,
		Payload:    map[string]any{"error_id": errorID, "notes": notes},
	})
	return nil
}

// WorkflowErrors returns the workflow's records, oldest first. The store is
// authoritative when configured since ClearResolved prunes memory.
func (h *Handler) WorkflowErrors(ctx context.Context, workflowID string) ([]ErrorRecord, error) {
	if h.store != nil {
		records, err := h.store.ListErrors(ctx, workflowID)
		if err != nil {
			return nil, services.Wrap(services.ErrDatabase, "recovery", "list errors", workflowID, err)
		}
		return records, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	recs := h.records[workflowID]
	out := make([]ErrorRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Restore rebuilds counters and budgets from persisted records. Workflows
// whose records are all resolved start with a fresh budget, matching
// ClearResolved.
func (h *Handler) Restore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	records, err := h.store.ListErrors(ctx, "")
	if err != nil {
		return services.Wrap(services.ErrDatabase, "recovery", "restore", "list errors", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = make(map[string][]*ErrorRecord)
	h.byID = make(map[string]*ErrorRecord)
	h.counts = make(map[string]int)
	h.budget = make(map[string]int)
	h.orphans = nil
	h.totalAttempts = 0
	for i := range records {
		rec := records[i].Clone()
		h.records[rec.WorkflowID] = append(h.records[rec.WorkflowID], &rec)
		h.byID[rec.ID] = &rec
	}
	for workflowID, recs := range h.records {
		if allResolved(recs) {
			delete(h.records, workflowID)
			for _, rec := range recs {
				delete(h.byID, rec.ID)
			}
			continue
		}
		used := 0
		for _, rec := range recs {
			h.counts[countKey(rec.Category, rec.Kind)]++
			h.totalAttempts += len(rec.Attempts)
			for _, a := range rec.Attempts {
				if a.Strategy != StrategyBudgetExhausted {
					used++
				}
			}
		}
		h.budget[workflowID] = min(used, h.maxAttempts)
	}
	return nil
}

func countKey(category Category, kind string) string {
	return category.String() + ":" + kind
}

func allResolved(recs []*ErrorRecord) bool {
	for _, rec := range recs {
		if !rec.Resolved() {
			return false
		}
	}
	return true
}

func hintFor(category Category) string {
	switch category {
	case CategoryDataValidation:
		return "complete the missing assessment fields or resolve the divergence"
	case CategoryProcessing:
		return "stage will be retried; check agent latency if this repeats"
	case CategoryAgentFailure:
		return "check the agent implementation and its status"
	case CategoryDatabase:
		return "check database access and disk space"
	case CategoryNetwork:
		return "check connectivity to the agent backend"
	default:
		return "inspect the daemon logs for the failing component"
	}
}

func impactFor(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return "workflow failed; no automatic recovery"
	case SeverityHigh:
		return "workflow failed; manual resume required"
	default:
		return "stage retried if recovery budget remains"
	}
}
