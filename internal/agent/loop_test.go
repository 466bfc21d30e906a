package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"cmdloop/internal/domain"
	"cmdloop/internal/invoke"
	"cmdloop/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedClient replies with the next scripted answer on every call.
type scriptedClient struct {
	mu       sync.Mutex
	replies  []string
	err      error
	failAt   int // 1-based call that fails, 0 = never
	calls    int
	requests []domain.ChatRequest
}

func (c *scriptedClient) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.requests = append(c.requests, req)
	if c.failAt == c.calls {
		return nil, c.err
	}
	if len(c.replies) == 0 {
		return &domain.ChatResponse{Content: "done"}, nil
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return &domain.ChatResponse{Content: reply}, nil
}

// recordingDispatcher answers every invocation with a canned result.
type recordingDispatcher struct {
	batches [][]domain.ToolInvocation
	result  func(inv domain.ToolInvocation) domain.ToolResult
}

func (d *recordingDispatcher) ExecuteAll(ctx context.Context, invs []domain.ToolInvocation) []domain.ToolResult {
	d.batches = append(d.batches, invs)
	out := make([]domain.ToolResult, len(invs))
	for i, inv := range invs {
		if d.result != nil {
			out[i] = d.result(inv)
		} else {
			out[i] = domain.Succeeded("ran " + inv.Name)
		}
	}
	return out
}

func echoCall(text string) string {
	return invoke.Serialize([]domain.ToolInvocation{
		domain.NewInvocation("Echo", domain.Param{Name: "text", Value: text}),
	})
}

func newTestLoop(t *testing.T, client domain.ChatClient, d Dispatcher, mutate func(*Config)) *Loop {
	t.Helper()
	cfg := Config{
		Client:     client,
		Parser:     invoke.NewParser(nil),
		Dispatcher: d,
		Metrics:    metrics.NewCollector(),
		Logger:     testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := NewLoop(cfg)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return l
}

func start(request string) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "system"},
		{Role: domain.RoleUser, Content: request},
	}
}

func TestNewLoop_RequiresCollaborators(t *testing.T) {
	if _, err := NewLoop(Config{Dispatcher: &recordingDispatcher{}}); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := NewLoop(Config{Client: &scriptedClient{}}); err == nil {
		t.Fatal("expected error without dispatcher")
	}
}

func TestRun_NoInvocationsIsDone(t *testing.T) {
	client := &scriptedClient{replies: []string{"  Nothing to run.  "}}
	d := &recordingDispatcher{}
	l := newTestLoop(t, client, d, nil)

	out, err := l.Run(context.Background(), start("hello"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != StateDone {
		t.Fatalf("state = %s, want done", out.State)
	}
	if out.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", out.Iterations)
	}
	if out.Final != "Nothing to run." {
		t.Fatalf("final = %q", out.Final)
	}
	if len(d.batches) != 0 {
		t.Fatalf("dispatcher should not run, got %d batches", len(d.batches))
	}
	if len(out.Messages) != 3 || out.Messages[2].Role != domain.RoleAssistant {
		t.Fatalf("expected assistant reply appended, got %+v", out.Messages)
	}
	if out.RunID == "" {
		t.Fatal("expected a run id")
	}
}

func TestRun_DispatchesAndResubmits(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"Let me check.\n" + echoCall("hi"),
		"All good.",
	}}
	d := &recordingDispatcher{}
	l := newTestLoop(t, client, d, nil)

	out, err := l.Run(context.Background(), start("say hi"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != StateDone || out.Iterations != 2 {
		t.Fatalf("state=%s iterations=%d", out.State, out.Iterations)
	}
	if len(d.batches) != 1 || d.batches[0][0].Name != "Echo" {
		t.Fatalf("unexpected batches: %+v", d.batches)
	}

	// system, user, assistant(call), user(digest), assistant(final)
	if len(out.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(out.Messages))
	}
	if out.Messages[2].Role != domain.RoleAssistant || !strings.Contains(out.Messages[2].Content, "<invoke") {
		t.Fatalf("assistant reply must precede the digest: %+v", out.Messages[2])
	}
	digest := out.Messages[3]
	if digest.Role != domain.RoleUser || !strings.HasPrefix(digest.Content, "Tool execution results:") {
		t.Fatalf("unexpected digest message: %+v", digest)
	}

	// The second request carries the whole conversation so far.
	if got := len(client.requests[1].Messages); got != 4 {
		t.Fatalf("second request has %d messages, want 4", got)
	}
}

func TestRun_IterationCeiling(t *testing.T) {
	client := &scriptedClient{replies: []string{echoCall("again")}}
	d := &recordingDispatcher{}
	var states []State
	l := newTestLoop(t, client, d, func(c *Config) {
		c.MaxIterations = 3
		c.Hooks.OnState = func(s State, _ int) { states = append(states, s) }
	})

	out, err := l.Run(context.Background(), start("loop forever"))
	if err != nil {
		t.Fatalf("ceiling must not be an error: %v", err)
	}
	if out.State != StateIterationLimit {
		t.Fatalf("state = %s, want iteration-limit-reached", out.State)
	}
	if client.calls != 3 {
		t.Fatalf("model called %d times, want 3", client.calls)
	}
	if len(d.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(d.batches))
	}
	if states[len(states)-1] != StateIterationLimit {
		t.Fatalf("last state = %s", states[len(states)-1])
	}
}

func TestRun_DefaultCeilingIsTen(t *testing.T) {
	client := &scriptedClient{replies: []string{echoCall("again")}}
	l := newTestLoop(t, client, &recordingDispatcher{}, nil)

	out, _ := l.Run(context.Background(), start("loop"))
	if out.Iterations != 10 || client.calls != 10 {
		t.Fatalf("iterations=%d calls=%d, want 10", out.Iterations, client.calls)
	}
}

func TestRun_ModelFailureIsFatal(t *testing.T) {
	client := &scriptedClient{
		replies: []string{echoCall("first")},
		failAt:  2,
		err:     errors.New("503 upstream"),
	}
	d := &recordingDispatcher{}
	l := newTestLoop(t, client, d, nil)

	out, err := l.Run(context.Background(), start("go"))
	if !errors.Is(err, ErrModel) {
		t.Fatalf("expected ErrModel, got %v", err)
	}
	if !strings.Contains(err.Error(), "503 upstream") {
		t.Fatalf("cause should be kept: %v", err)
	}
	if out.State != StateFailed {
		t.Fatalf("state = %s, want failed", out.State)
	}
	if client.calls != 2 {
		t.Fatalf("model failure must not be retried, calls = %d", client.calls)
	}
	if len(d.batches) != 1 {
		t.Fatalf("expected the first batch only, got %d", len(d.batches))
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{}
	l := newTestLoop(t, client, &recordingDispatcher{}, nil)

	out, err := l.Run(ctx, start("go"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out.State != StateFailed || client.calls != 0 {
		t.Fatalf("state=%s calls=%d", out.State, client.calls)
	}
}

func TestRun_HooksSeeNarrativeAndResults(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"Running two.\n" + invoke.Serialize([]domain.ToolInvocation{
			domain.NewInvocation("a"),
			domain.NewInvocation("b"),
		}),
		"Finished.",
	}}
	d := &recordingDispatcher{result: func(inv domain.ToolInvocation) domain.ToolResult {
		if inv.Name == "b" {
			return domain.Failed("b broke")
		}
		return domain.Succeeded("ok")
	}}

	var narratives []string
	var seen []string
	l := newTestLoop(t, client, d, func(c *Config) {
		c.Hooks.OnNarrative = func(_ int, text string) { narratives = append(narratives, text) }
		c.Hooks.OnResult = func(inv domain.ToolInvocation, res domain.ToolResult) {
			seen = append(seen, inv.Name+":"+res.Error)
		}
	})

	if _, err := l.Run(context.Background(), start("go")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(narratives) != 2 || narratives[0] != "Running two." || narratives[1] != "Finished." {
		t.Fatalf("narratives = %q", narratives)
	}
	if strings.Join(seen, ",") != "a:,b:b broke" {
		t.Fatalf("results = %q", seen)
	}
}

func TestRun_KeepsRunIDFromContext(t *testing.T) {
	client := &scriptedClient{}
	l := newTestLoop(t, client, &recordingDispatcher{}, nil)

	out, _ := l.Run(domain.WithRunID(context.Background(), "run-42"), start("go"))
	if out.RunID != "run-42" {
		t.Fatalf("run id = %q", out.RunID)
	}
}

func TestRun_PassesRequestSettings(t *testing.T) {
	client := &scriptedClient{}
	l := newTestLoop(t, client, &recordingDispatcher{}, func(c *Config) {
		c.Model = "gpt-4.1"
		c.Temperature = 0.4
		c.MaxTokens = 512
	})

	if _, err := l.Run(context.Background(), start("go")); err != nil {
		t.Fatal(err)
	}
	req := client.requests[0]
	if req.Model != "gpt-4.1" || req.Temperature != 0.4 || req.MaxTokens != 512 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	m := metrics.NewCollector()
	client := &scriptedClient{replies: []string{echoCall("x"), "done"}}
	l := newTestLoop(t, client, &recordingDispatcher{}, func(c *Config) { c.Metrics = m })

	if _, err := l.Run(context.Background(), start("go")); err != nil {
		t.Fatal(err)
	}
	if got := m.ModelRequest("success").Value(); got != 2 {
		t.Fatalf("model requests = %d, want 2", got)
	}
	if got := m.LoopOutcome(string(StateDone)).Value(); got != 1 {
		t.Fatalf("done outcomes = %d, want 1", got)
	}
	if err := m.WriteText(io.Discard); err != nil {
		t.Fatal(err)
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateDone, StateIterationLimit, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateAwaitingReply, StateParsing, StateDispatching, StateResultsFolded} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
