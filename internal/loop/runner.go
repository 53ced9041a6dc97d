package loop

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/gyre-dev/gyre/internal/breaker"
	"github.com/gyre-dev/gyre/internal/conversation"
	"github.com/gyre-dev/gyre/internal/executor"
	"github.com/gyre-dev/gyre/internal/journal"
	"github.com/gyre-dev/gyre/internal/knowledge"
	"github.com/gyre-dev/gyre/internal/llm"
	"github.com/gyre-dev/gyre/internal/policy"
	"github.com/gyre-dev/gyre/internal/tools"
)

// Runner owns the dependencies shared across runs and drives one
// phase machine per invocation. The caller (scheduler, CLI, webhook)
// decides when to invoke Run.
type Runner struct {
	client    llm.Client
	registry  *tools.Registry
	gate      policy.Gate
	bridge    *knowledge.Bridge
	sink      journal.Sink
	logger    *slog.Logger
	estimator conversation.Estimator
	limiter   *rate.Limiter

	nowFunc   func() time.Time
	sleepFunc func(context.Context, time.Duration)
}

// RunnerOption adjusts runner construction.
type RunnerOption func(*Runner)

// WithGate sets the policy gate. Without one every action is allowed.
func WithGate(g policy.Gate) RunnerOption {
	return func(r *Runner) { r.gate = g }
}

// WithBridge attaches a knowledge bridge. A nil bridge is the same as
// not attaching one.
func WithBridge(b *knowledge.Bridge) RunnerOption {
	return func(r *Runner) { r.bridge = b }
}

// WithJournal sets the sink that receives run traces.
func WithJournal(s journal.Sink) RunnerOption {
	return func(r *Runner) { r.sink = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEstimator replaces the token estimator used for budgeting and
// for usage fallback when the provider reports none.
func WithEstimator(e conversation.Estimator) RunnerOption {
	return func(r *Runner) {
		if e != nil {
			r.estimator = e
		}
	}
}

// WithInferenceRate paces inference calls across iterations, mainly
// for providers with strict request-per-second limits.
func WithInferenceRate(limit rate.Limit, burst int) RunnerOption {
	return func(r *Runner) { r.limiter = rate.NewLimiter(limit, burst) }
}

// NewRunner builds a runner over a provider client and tool registry.
func NewRunner(client llm.Client, registry *tools.Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:    client,
		registry:  registry,
		logger:    slog.Default(),
		estimator: conversation.Heuristic{},
		limiter:   rate.NewLimiter(rate.Inf, 0),
		nowFunc:   time.Now,
		sleepFunc: sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "loop")
	return r
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run drives one complete agent invocation over the given conversation
// and returns its terminal result. The conversation is owned by the
// run until Run returns. Run never returns nil.
func (r *Runner) Run(ctx context.Context, agentID string, conv *conversation.Log, cfg Config) *Result {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return &Result{Reason: ReasonError, Err: err}
	}

	runID := newRunID()
	logger := r.logger.With("run_id", runID, "agent_id", agentID)
	logger.Info("run starting", "model", cfg.Model, "max_iterations", cfg.MaxIterations)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	breakers := breaker.NewRegistry(cfg.Breaker, logger)
	execOpts := []executor.Option{
		executor.WithPerToolTimeout(cfg.PerToolTimeout),
		executor.WithMaxConcurrent(cfg.MaxConcurrentTools),
		executor.WithDefaultRecovery(cfg.DefaultRecovery),
	}
	for tool, rec := range cfg.ToolRecovery {
		execOpts = append(execOpts, executor.WithToolRecovery(tool, rec))
	}
	exec := executor.New(r.bridge.WrapInvoker(r.registry), breakers, logger, execOpts...)

	defs := cfg.Tools
	if len(defs) == 0 && r.registry != nil {
		defs = r.registry.Definitions()
	}
	defs = append(defs, r.bridge.Definitions()...)

	run := &run{
		id:        runID,
		agentID:   agentID,
		cfg:       cfg,
		conv:      conv,
		client:    r.client,
		gate:      r.gate,
		exec:      exec,
		breakers:  breakers,
		bridge:    r.bridge,
		defs:      defs,
		estimator: r.estimator,
		strategy:  strategyFor(cfg),
		limiter:   r.limiter,
		journal:   journal.NewWriter(runID, agentID, r.sink, logger),
		logger:    logger,
		nowFunc:   r.nowFunc,
		sleepFunc: r.sleepFunc,
	}

	phase := run.start()
	for {
		gated, res := phase.ProduceOutput(ctx)
		if res != nil {
			return res
		}
		observing := gated.CheckPolicy().DispatchTools(ctx)
		next, res := observing.ObserveResults()
		if res != nil {
			return res
		}
		phase = next
	}
}

// strategyFor maps the configured name to a budget strategy.
func strategyFor(cfg Config) conversation.Strategy {
	switch cfg.BudgetStrategy {
	case StrategyObservationMask:
		return conversation.ObservationMask{}
	case StrategyAnchoredSummary:
		return conversation.AnchoredSummary{Summarize: conversation.DigestSummary}
	default:
		return conversation.SlidingWindow{}
	}
}

func newRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
