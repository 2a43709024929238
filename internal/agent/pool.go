package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"assessflow/internal/config"
	"assessflow/internal/events"
	"assessflow/internal/logging"
	"assessflow/internal/services"
)

// Options sizes the dispatch pool.
type Options struct {
	QueueCapacity      int
	Workers            int
	MaxConcurrentTasks int
	RetryAttempts      int
}

// OptionsFromConfig reads the [agents] section.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		QueueCapacity:      cfg.Agents.QueueCapacity,
		Workers:            cfg.Agents.Workers,
		MaxConcurrentTasks: cfg.Agents.MaxConcurrentTasks,
		RetryAttempts:      cfg.Agents.RetryAttempts,
	}
}

// Result is what a submitted task resolves to.
type Result struct {
	Output Output
	Err    error
}

type task struct {
	ctx   context.Context
	input StageInput
	done  chan Result
}

// Pool runs stage work on a fixed set of workers per agent type. Each type
// has its own bounded queue so a slow agent cannot starve the others.
type Pool struct {
	registry *Registry
	tracker  *SessionTracker
	logger   *slog.Logger
	opts     Options

	mu      sync.Mutex
	queues  map[string]chan task
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool constructs a pool over registry. Call Start before dispatching.
func NewPool(registry *Registry, opts Options, emitter events.Emitter, logger *slog.Logger) *Pool {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 16
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = opts.Workers
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	tracker := NewSessionTracker(opts.MaxConcurrentTasks, opts.RetryAttempts, emitter)
	for _, agentType := range registry.Types() {
		tracker.Register(agentType)
	}
	return &Pool{
		registry: registry,
		tracker:  tracker,
		logger:   logging.NewComponentLogger(logger, "agent-pool"),
		opts:     opts,
	}
}

// Tracker exposes session bookkeeping for status reporting.
func (p *Pool) Tracker() *SessionTracker {
	return p.tracker
}

// Start launches workers for every registered agent type.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("agent pool already running")
	}
	types := p.registry.Types()
	if len(types) == 0 {
		return services.Wrap(services.ErrConfiguration, "agent", "start pool", "no agents registered", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.runCtx = runCtx
	p.cancel = cancel
	p.running = true
	p.queues = make(map[string]chan task, len(types))

	for _, agentType := range types {
		a, _ := p.registry.Lookup(agentType)
		queue := make(chan task, p.opts.QueueCapacity)
		p.queues[agentType] = queue
		logger := p.logger.With(logging.String(logging.FieldAgentType, agentType))
		p.wg.Add(p.opts.Workers)
		for i := 0; i < p.opts.Workers; i++ {
			go p.worker(runCtx, a, queue, logger)
		}
	}
	p.logger.Debug("agent pool started",
		logging.Int("agent_types", len(types)),
		logging.Int("workers_per_type", p.opts.Workers),
		logging.Int("queue_capacity", p.opts.QueueCapacity),
	)
	return nil
}

// Stop cancels all workers and waits for them. Tasks still queued resolve
// through their waiters observing the pool shutdown.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Pool) queueFor(agentType string) (chan task, context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil, nil, services.Wrap(services.ErrInvalidState, "agent", "submit", "agent pool is not running", nil)
	}
	queue, ok := p.queues[agentType]
	if !ok {
		return nil, nil, services.Wrap(services.ErrAgentResponse, "agent", "submit",
			fmt.Sprintf("unknown agent type %q", agentType), nil)
	}
	return queue, p.runCtx, nil
}

// Submit enqueues input, blocking while the agent's queue is full.
func (p *Pool) Submit(ctx context.Context, input StageInput) (<-chan Result, error) {
	queue, poolCtx, err := p.queueFor(input.AgentType)
	if err != nil {
		return nil, err
	}
	t := task{ctx: ctx, input: input, done: make(chan Result, 1)}
	select {
	case queue <- t:
		return t.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-poolCtx.Done():
		return nil, services.Wrap(services.ErrInvalidState, "agent", "submit", "agent pool stopped", nil)
	}
}

// TrySubmit enqueues input or fails with ErrBackpressure when the queue is full.
func (p *Pool) TrySubmit(ctx context.Context, input StageInput) (<-chan Result, error) {
	queue, _, err := p.queueFor(input.AgentType)
	if err != nil {
		return nil, err
	}
	t := task{ctx: ctx, input: input, done: make(chan Result, 1)}
	select {
	case queue <- t:
		return t.done, nil
	default:
		return nil, services.Wrap(services.ErrBackpressure, "agent", "submit",
			fmt.Sprintf("%s queue full (%d)", input.AgentType, cap(queue)), nil)
	}
}

// Dispatch submits input and waits for its result.
func (p *Pool) Dispatch(ctx context.Context, input StageInput) (Output, error) {
	done, err := p.Submit(ctx, input)
	if err != nil {
		return nil, err
	}
	_, poolCtx, err := p.queueFor(input.AgentType)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-done:
		return res.Output, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-poolCtx.Done():
		return nil, services.Wrap(services.ErrInvalidState, "agent", "dispatch", "agent pool stopped", nil)
	}
}

func (p *Pool) worker(ctx context.Context, a Agent, queue chan task, logger *slog.Logger) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-queue:
			t.done <- p.run(a, t, logger)
		}
	}
}

func (p *Pool) run(a Agent, t task, logger *slog.Logger) Result {
	if err := t.ctx.Err(); err != nil {
		return Result{Err: err}
	}
	session, err := p.tracker.Begin(t.input)
	if err != nil {
		return Result{Err: err}
	}
	out, err := p.execute(a, t, logger)
	p.tracker.End(session, err)
	return Result{Output: out, Err: err}
}

func (p *Pool) execute(a Agent, t task, logger *slog.Logger) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logging.WithContext(t.ctx, logger), "agent panicked",
				"agent_panic",
				logging.String(logging.FieldErrorHint, "inspect the agent implementation for unchecked input"),
				logging.String(logging.FieldImpact, "stage fails and goes through recovery"),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			out = nil
			err = services.Wrap(services.ErrAgentCrashed, "agent", "execute",
				fmt.Sprintf("agent %s panicked: %v", a.Type(), r), nil)
		}
	}()
	out, err = a.Execute(t.ctx, t.input)
	if err == nil && len(out) == 0 {
		err = services.Wrap(services.ErrAgentResponse, "agent", "execute",
			fmt.Sprintf("agent %s returned an empty response", a.Type()), nil)
	}
	return out, err
}
