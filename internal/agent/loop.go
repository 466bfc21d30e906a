// Package agent drives the bounded conversation loop: ask the model, run the
// invocations in its reply, fold the results back in and ask again.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cmdloop/internal/domain"
	"cmdloop/internal/invoke"
	"cmdloop/internal/metrics"
)

const (
	defaultMaxIterations = 10
	defaultMaxTokens     = 4096
)

// ErrModel marks a failed chat-completion call. It ends the run.
var ErrModel = errors.New("model request failed")

// State is a conversation loop state.
type State string

const (
	StateAwaitingReply  State = "awaiting-model-reply"
	StateParsing        State = "parsing"
	StateDispatching    State = "dispatching"
	StateResultsFolded  State = "results-folded"
	StateDone           State = "done"
	StateIterationLimit State = "iteration-limit-reached"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateIterationLimit || s == StateFailed
}

// Parser extracts invocations from a model reply.
type Parser interface {
	Parse(text string) []domain.ToolInvocation
}

// Dispatcher executes a batch of invocations, one result per invocation in
// input order.
type Dispatcher interface {
	ExecuteAll(ctx context.Context, invs []domain.ToolInvocation) []domain.ToolResult
}

// Limiter throttles model calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Hooks let the caller observe a run. Every field is optional.
type Hooks struct {
	OnState     func(state State, iteration int)
	OnNarrative func(iteration int, text string)
	OnResult    func(inv domain.ToolInvocation, res domain.ToolResult)
}

// Outcome is the terminal report of one run.
type Outcome struct {
	RunID      string
	State      State
	Iterations int // model calls made
	Messages   []domain.Message
	Final      string // narrative of the last model reply
}

// Loop is the conversation engine. It is safe to call Run concurrently as
// long as the collaborators are.
type Loop struct {
	client        domain.ChatClient
	parser        Parser
	dispatcher    Dispatcher
	limiter       Limiter
	hooks         Hooks
	model         string
	temperature   float64
	maxTokens     int
	maxIterations int
	metrics       *metrics.Collector
	logger        *slog.Logger
}

// Config holds the collaborators and tuning of a Loop.
type Config struct {
	Client        domain.ChatClient
	Parser        Parser
	Dispatcher    Dispatcher
	Limiter       Limiter // optional
	Hooks         Hooks
	Model         string // empty lets the client pick its configured model
	Temperature   float64
	MaxTokens     int
	MaxIterations int // ceiling on model calls per run, default 10
	Metrics       *metrics.Collector
	Logger        *slog.Logger
}

// NewLoop validates cfg and fills in defaults.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("agent: chat client is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("agent: dispatcher is required")
	}
	if cfg.Parser == nil {
		cfg.Parser = invoke.NewParser(nil)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		client:        cfg.Client,
		parser:        cfg.Parser,
		dispatcher:    cfg.Dispatcher,
		limiter:       cfg.Limiter,
		hooks:         cfg.Hooks,
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		maxIterations: cfg.MaxIterations,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}, nil
}

// Run starts from messages, whose last entry is normally the user's request,
// and iterates until the model stops asking for tools, the ceiling is hit or
// a model call fails. The returned Outcome is never nil; err is non-nil only
// for StateFailed.
func (l *Loop) Run(ctx context.Context, messages []domain.Message) (*Outcome, error) {
	runID := domain.RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = domain.WithRunID(ctx, runID)
	}
	logger := l.logger.With("run_id", runID)

	out := &Outcome{
		RunID:    runID,
		Messages: append([]domain.Message(nil), messages...),
	}
	finish := func(state State, err error) (*Outcome, error) {
		out.State = state
		l.transition(state, out.Iterations)
		l.metrics.LoopOutcome(string(state)).Inc()
		logger.Info("conversation finished", "state", state, "iterations", out.Iterations)
		return out, err
	}

	for {
		if out.Iterations >= l.maxIterations {
			logger.Warn("iteration ceiling reached", "max", l.maxIterations)
			return finish(StateIterationLimit, nil)
		}
		if err := ctx.Err(); err != nil {
			return finish(StateFailed, err)
		}

		out.Iterations++
		iteration := out.Iterations
		l.transition(StateAwaitingReply, iteration)

		reply, err := l.ask(ctx, out.Messages)
		if err != nil {
			logger.Error("model request failed", "iteration", iteration, "err", err)
			return finish(StateFailed, err)
		}
		out.Messages = append(out.Messages, domain.Message{Role: domain.RoleAssistant, Content: reply})

		l.transition(StateParsing, iteration)
		narrative := invoke.ExtractNarrative(reply)
		out.Final = narrative
		if narrative != "" && l.hooks.OnNarrative != nil {
			l.hooks.OnNarrative(iteration, narrative)
		}

		invs := l.parser.Parse(reply)
		if len(invs) == 0 {
			return finish(StateDone, nil)
		}
		logger.Debug("dispatching invocations", "iteration", iteration, "count", len(invs))
		if logger.Enabled(ctx, slog.LevelDebug) {
			logger.Debug("parsed invocations", "iteration", iteration, "calls", invoke.Serialize(invs))
		}

		l.transition(StateDispatching, iteration)
		results := l.dispatcher.ExecuteAll(ctx, invs)
		if l.hooks.OnResult != nil {
			for i, inv := range invs {
				l.hooks.OnResult(inv, resultAt(results, i))
			}
		}

		out.Messages = append(out.Messages, domain.Message{
			Role:    domain.RoleUser,
			Content: FormatResults(invs, results),
		})
		l.transition(StateResultsFolded, iteration)
	}
}

func (l *Loop) ask(ctx context.Context, messages []domain.Message) (string, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}

	start := time.Now()
	resp, err := l.client.Chat(ctx, domain.ChatRequest{
		Model:       l.model,
		Messages:    messages,
		Temperature: l.temperature,
		MaxTokens:   l.maxTokens,
	})
	l.metrics.ModelLatency().ObserveSince(start)
	if err != nil {
		l.metrics.ModelRequest("failure").Inc()
		return "", fmt.Errorf("%w: %w", ErrModel, err)
	}
	if resp == nil {
		l.metrics.ModelRequest("failure").Inc()
		return "", fmt.Errorf("%w: empty response", ErrModel)
	}
	l.metrics.ModelRequest("success").Inc()
	return resp.Content, nil
}

func (l *Loop) transition(state State, iteration int) {
	if l.hooks.OnState != nil {
		l.hooks.OnState(state, iteration)
	}
}

// resultAt tolerates a dispatcher that returned fewer results than asked.
func resultAt(results []domain.ToolResult, i int) domain.ToolResult {
	if i < len(results) {
		return results[i]
	}
	return domain.Failed("no result reported")
}
