package services_test

import (
	"context"
	"testing"

	"assessflow/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithWorkflowID(ctx, "wf_01")
	ctx = services.WithStage(ctx, "analysis")
	ctx = services.WithAgentType(ctx, "analysis")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.WorkflowIDFromContext(ctx); !ok || id != "wf_01" {
		t.Fatalf("unexpected workflow id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "analysis" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if agentType, ok := services.AgentTypeFromContext(ctx); !ok || agentType != "analysis" {
		t.Fatalf("unexpected agent type: %v %v", agentType, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
