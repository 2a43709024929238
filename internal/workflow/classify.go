package workflow

import (
	"context"
	"errors"
	"strings"

	"assessflow/internal/recovery"
	"assessflow/internal/services"
)

type timeouter interface {
	Timeout() bool
}

// Classify maps a stage failure onto the recovery taxonomy. Errors outside
// the services markers still count as timeouts when they report Timeout()
// or say so in their message.
func Classify(err error) (recovery.Category, recovery.Severity) {
	switch {
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return recovery.CategoryProcessing, recovery.SeverityMedium
	case errors.Is(err, services.ErrBackpressure):
		return recovery.CategoryProcessing, recovery.SeverityMedium
	case errors.Is(err, services.ErrAgentResponse):
		return recovery.CategoryAgentFailure, recovery.SeverityHigh
	case errors.Is(err, services.ErrValidation):
		return recovery.CategoryDataValidation, recovery.SeverityMedium
	case errors.Is(err, services.ErrNetwork):
		return recovery.CategoryNetwork, recovery.SeverityMedium
	case errors.Is(err, services.ErrDatabase):
		return recovery.CategoryDatabase, recovery.SeverityHigh
	case errors.Is(err, services.ErrSystem):
		return recovery.CategorySystem, recovery.SeverityHigh
	case isTimeout(err):
		return recovery.CategoryProcessing, recovery.SeverityMedium
	default:
		return recovery.CategoryAgentFailure, recovery.SeverityMedium
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var t timeouter
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
