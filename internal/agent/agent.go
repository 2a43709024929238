package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"assessflow/internal/services"
)

// Well-known agent types used by the default stage layout.
const (
	TypeAssessment    = "assessment"
	TypeAnalysis      = "analysis"
	TypeDocumentation = "documentation"
)

// StageInput is everything an agent receives for one stage run.
type StageInput struct {
	WorkflowID     string                    `json:"workflow_id"`
	StageID        string                    `json:"stage_id"`
	AgentType      string                    `json:"agent_type"`
	ClientID       string                    `json:"client_id"`
	TherapistID    string                    `json:"therapist_id"`
	AssessmentType string                    `json:"assessment_type"`
	CorrelationID  string                    `json:"correlation_id,omitempty"`
	Metadata       map[string]any            `json:"metadata,omitempty"`
	PriorOutputs   map[string]map[string]any `json:"prior_outputs,omitempty"`
}

// Output is the stage result an agent returns.
type Output map[string]any

// Agent executes stage work for one agent type. Implementations enforce
// their own timeouts and must honor ctx cancellation where they can.
type Agent interface {
	Type() string
	Execute(ctx context.Context, input StageInput) (Output, error)
}

// ExecuteFunc is the function form of Agent.Execute.
type ExecuteFunc func(ctx context.Context, input StageInput) (Output, error)

type funcAgent struct {
	agentType string
	fn        ExecuteFunc
}

// Func adapts fn into an Agent of the given type.
func Func(agentType string, fn ExecuteFunc) Agent {
	return &funcAgent{agentType: agentType, fn: fn}
}

func (f *funcAgent) Type() string { return f.agentType }

func (f *funcAgent) Execute(ctx context.Context, input StageInput) (Output, error) {
	return f.fn(ctx, input)
}

// Registry maps agent types to implementations.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry(agents ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[string]Agent)}
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a. Registering the same type twice is an error.
func (r *Registry) Register(a Agent) error {
	if a == nil {
		return services.Wrap(services.ErrConfiguration, "agent", "register", "nil agent", nil)
	}
	agentType := strings.TrimSpace(a.Type())
	if agentType == "" {
		return services.Wrap(services.ErrConfiguration, "agent", "register", "agent type is empty", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agentType]; exists {
		return services.Wrap(services.ErrConfiguration, "agent", "register", fmt.Sprintf("agent type %q already registered", agentType), nil)
	}
	r.agents[agentType] = a
	return nil
}

// Lookup returns the agent registered for agentType.
func (r *Registry) Lookup(agentType string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentType]
	return a, ok
}

// Types returns registered agent types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for t := range r.agents {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
