package services

import "context"

type contextKey string

const (
	workflowIDKey contextKey = "workflow_id"
	stageKey      contextKey = "stage"
	agentTypeKey  contextKey = "agent_type"
	requestIDKey  contextKey = "request_id"
)

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithWorkflowID annotates ctx with the workflow being processed.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return withValue(ctx, workflowIDKey, id)
}

func WorkflowIDFromContext(ctx context.Context) (string, bool) { return lookup(ctx, workflowIDKey) }

// WithStage annotates ctx with the stage id currently executing.
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return lookup(ctx, stageKey) }

// WithAgentType annotates ctx with the agent type serving the stage.
func WithAgentType(ctx context.Context, agentType string) context.Context {
	return withValue(ctx, agentTypeKey, agentType)
}

func AgentTypeFromContext(ctx context.Context) (string, bool) { return lookup(ctx, agentTypeKey) }

// WithRequestID annotates ctx with the per-dispatch correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return lookup(ctx, requestIDKey) }
