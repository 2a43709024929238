package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"assessflow/internal/events"
	"assessflow/internal/services"
)

// State is the coarse agent status.
type State string

const (
	StateIdle     State = "idle"
	StateBusy     State = "busy"
	StateError    State = "error"
	StateDisabled State = "disabled"
)

// Status is a point-in-time view of one agent type.
type Status struct {
	AgentType      string    `json:"agent_type"`
	State          State     `json:"state"`
	ActiveSessions int       `json:"active_sessions"`
	ErrorCount     int       `json:"error_count"`
	LastActive     time.Time `json:"last_active,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
}

// Session identifies one in-flight stage execution.
type Session struct {
	ID         string
	AgentType  string
	WorkflowID string
	StageID    string
	StartedAt  time.Time
}

type agentState struct {
	state      State
	sessions   map[string]Session
	errorCount int
	lastActive time.Time
	lastError  string
}

// SessionTracker keeps per-agent-type session bookkeeping.
type SessionTracker struct {
	mu            sync.Mutex
	maxConcurrent int
	retryAttempts int
	emitter       events.Emitter
	agents        map[string]*agentState
}

func NewSessionTracker(maxConcurrent, retryAttempts int, emitter events.Emitter) *SessionTracker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &SessionTracker{
		maxConcurrent: maxConcurrent,
		retryAttempts: retryAttempts,
		emitter:       emitter,
		agents:        make(map[string]*agentState),
	}
}

func (t *SessionTracker) stateLocked(agentType string) *agentState {
	st, ok := t.agents[agentType]
	if !ok {
		st = &agentState{state: StateIdle, sessions: make(map[string]Session)}
		t.agents[agentType] = st
	}
	return st
}

// Register makes agentType visible in Statuses before its first session.
func (t *SessionTracker) Register(agentType string) {
	t.mu.Lock()
	t.stateLocked(agentType)
	t.mu.Unlock()
}

// ValidateInput enforces per-type context requirements.
func ValidateInput(input StageInput) error {
	if input.WorkflowID == "" {
		return services.Wrap(services.ErrValidation, "agent", "validate context", "workflow_id is required", nil)
	}
	if input.AgentType == TypeAssessment && (input.ClientID == "" || input.TherapistID == "") {
		return services.Wrap(services.ErrValidation, "agent", "validate context",
			"assessment agent requires both therapist_id and client_id", nil)
	}
	return nil
}

// Begin opens a session for input. It fails when the agent is disabled, at
// its concurrent task limit, or the input context is incomplete.
func (t *SessionTracker) Begin(input StageInput) (Session, error) {
	if err := ValidateInput(input); err != nil {
		return Session{}, err
	}
	now := time.Now().UTC()

	t.mu.Lock()
	st := t.stateLocked(input.AgentType)
	if st.state == StateDisabled {
		t.mu.Unlock()
		return Session{}, services.Wrap(services.ErrInvalidState, "agent", "begin session",
			fmt.Sprintf("agent %s is disabled", input.AgentType), nil)
	}
	if len(st.sessions) >= t.maxConcurrent {
		t.mu.Unlock()
		return Session{}, services.Wrap(services.ErrBackpressure, "agent", "begin session",
			fmt.Sprintf("agent %s reached max concurrent tasks (%d)", input.AgentType, t.maxConcurrent), nil)
	}
	session := Session{
		ID:         uuid.NewString(),
		AgentType:  input.AgentType,
		WorkflowID: input.WorkflowID,
		StageID:    input.StageID,
		StartedAt:  now,
	}
	st.sessions[session.ID] = session
	st.lastActive = now
	if st.state != StateError {
		st.state = StateBusy
	}
	t.mu.Unlock()

	t.emitter.Publish(events.Event{
		Type:       events.AgentSessionStarted,
		WorkflowID: input.WorkflowID,
		StageID:    input.StageID,
		Payload:    map[string]any{"agent_type": input.AgentType, "session_id": session.ID},
	})
	return session, nil
}

// End closes session. A non-nil execErr counts against the agent and moves
// it to the error state once retryAttempts failures accumulate.
func (t *SessionTracker) End(session Session, execErr error) {
	now := time.Now().UTC()

	t.mu.Lock()
	st := t.stateLocked(session.AgentType)
	delete(st.sessions, session.ID)
	st.lastActive = now
	errorCount := st.errorCount
	if execErr != nil {
		st.errorCount++
		errorCount = st.errorCount
		st.lastError = execErr.Error()
		if t.retryAttempts > 0 && st.errorCount >= t.retryAttempts {
			st.state = StateError
		}
	}
	if st.state == StateBusy && len(st.sessions) == 0 {
		st.state = StateIdle
	}
	t.mu.Unlock()

	if execErr != nil {
		t.emitter.Publish(events.Event{
			Type:       events.AgentError,
			WorkflowID: session.WorkflowID,
			StageID:    session.StageID,
			Payload: map[string]any{
				"agent_type":  session.AgentType,
				"session_id":  session.ID,
				"error":       execErr.Error(),
				"error_count": errorCount,
			},
		})
	}
	t.emitter.Publish(events.Event{
		Type:       events.AgentSessionEnded,
		WorkflowID: session.WorkflowID,
		StageID:    session.StageID,
		Payload:    map[string]any{"agent_type": session.AgentType, "session_id": session.ID},
	})
}

// Disable stops agentType from accepting sessions. It refuses while sessions
// are still active.
func (t *SessionTracker) Disable(agentType string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stateLocked(agentType)
	if len(st.sessions) > 0 {
		return services.Wrap(services.ErrInvalidState, "agent", "disable",
			fmt.Sprintf("agent %s has %d active sessions", agentType, len(st.sessions)), nil)
	}
	st.state = StateDisabled
	return nil
}

// Reset clears the error count and returns agentType to idle.
func (t *SessionTracker) Reset(agentType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stateLocked(agentType)
	st.errorCount = 0
	st.lastError = ""
	if len(st.sessions) > 0 {
		st.state = StateBusy
	} else {
		st.state = StateIdle
	}
}

// Status reports agentType.
func (t *SessionTracker) Status(agentType string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.agents[agentType]
	if !ok {
		return Status{}, false
	}
	return snapshot(agentType, st), true
}

// Statuses reports every known agent type, sorted by type.
func (t *SessionTracker) Statuses() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Status, 0, len(t.agents))
	for agentType, st := range t.agents {
		out = append(out, snapshot(agentType, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentType < out[j].AgentType })
	return out
}

func snapshot(agentType string, st *agentState) Status {
	return Status{
		AgentType:      agentType,
		State:          st.state,
		ActiveSessions: len(st.sessions),
		ErrorCount:     st.errorCount,
		LastActive:     st.lastActive,
		LastError:      st.lastError,
	}
}
