package store

import (
	"context"
	"fmt"
	"time"

	"assessflow/internal/config"
	"assessflow/internal/events"
	"assessflow/internal/recovery"
	"assessflow/internal/workflow"
)

// Backend is everything the daemon needs from persistence.
type Backend interface {
	workflow.Store
	recovery.Store
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	Stats(ctx context.Context) (map[workflow.Status]int, error)
	SaveEvent(ctx context.Context, evt events.Event) error
	EventsSince(ctx context.Context, since time.Time, workflowID string, limit int) ([]events.Event, error)
	Close() error
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*Memory)(nil)
)

// OpenBackend selects the driver named by store.driver.
func OpenBackend(cfg *config.Config) (Backend, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		st, err := Open(cfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
