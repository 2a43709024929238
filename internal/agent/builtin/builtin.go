// Package builtin provides the reference agents for the default stage layout.
package builtin

import (
	"assessflow/internal/agent"
)

// Agents returns the assessment, analysis and documentation agents.
func Agents() []agent.Agent {
	return []agent.Agent{
		NewAssessment(DefaultRequiredFields...),
		NewAnalysis(),
		NewDocumentation(),
	}
}

// NewRegistry returns a registry populated with Agents.
func NewRegistry() (*agent.Registry, error) {
	return agent.NewRegistry(Agents()...)
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
