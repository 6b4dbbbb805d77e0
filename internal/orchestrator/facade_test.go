package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/cache"
	"github.com/seopilot/seopilot/internal/embedding"
	"github.com/seopilot/seopilot/internal/fault"
	"github.com/seopilot/seopilot/internal/llm"
	"github.com/seopilot/seopilot/internal/registry"
	"github.com/seopilot/seopilot/internal/retrieval"
)

// failingEmbedder forces retrieval index builds to fail.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}
func (failingEmbedder) Dimension() int { return 0 }

func newTestOrchestrator(t *testing.T, embedder embedding.Client) *Orchestrator {
	t.Helper()
	store := cache.NewMemory(0, zap.NewNop())
	t.Cleanup(func() { store.Close() })
	if embedder == nil {
		embedder = embedding.NewLocalClient(embedding.Config{Dimension: 64})
	}
	return New(Config{
		EscalationAttempts: 1,
		EscalationDelay:    time.Millisecond,
		Threshold:          0.1,
	}, registry.New(zap.NewNop()), llm.NewRouter(zap.NewNop()), embedder, store, nil, nil, nil, zap.NewNop())
}

func defaultSpec() AgentSpec {
	return AgentSpec{
		ID:            "op-1",
		Tier:          registry.TierOperational,
		Capabilities:  []string{"reporting", "keyword_research"},
		MaxConcurrent: 2,
	}
}

func awaitTerminal(t *testing.T, o *Orchestrator, taskID string) *TaskView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, ok := o.GetTask(taskID)
		if !ok {
			t.Fatalf("task %s not tracked", taskID)
		}
		if view.Status.Terminal() {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", taskID)
	return nil
}

func TestSubmitRunsToCompletion(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	if _, err := o.CreateAgent(context.Background(), defaultSpec()); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	tk, err := o.Submit(context.Background(), SubmitRequest{
		Type:    "reporting",
		Payload: map[string]any{"client": "acme.io"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tk.Priority != PriorityMedium {
		t.Errorf("empty priority should default to medium, got %s", tk.Priority)
	}

	view := awaitTerminal(t, o, tk.ID)
	if view.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", view.Status, view.Result.Error)
	}
	if view.Result.AgentID != "op-1" {
		t.Errorf("expected op-1 to execute, got %s", view.Result.AgentID)
	}
	if view.Result.Output == "" {
		t.Error("expected non-empty output")
	}
	if view.Result.Late {
		t.Error("task without deadline cannot be late")
	}
}

func TestSubmitValidation(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	o.CreateAgent(context.Background(), defaultSpec())

	if _, err := o.Submit(context.Background(), SubmitRequest{Type: "summon_demons"}); fault.KindOf(err) != fault.KindValidation {
		t.Errorf("unknown type should fail validation, got %v", err)
	}
	if _, err := o.Submit(context.Background(), SubmitRequest{Type: "reporting", Priority: "extreme"}); fault.KindOf(err) != fault.KindValidation {
		t.Errorf("unknown priority should fail validation, got %v", err)
	}
}

func TestSubmitNoCapableAgent(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	o.CreateAgent(context.Background(), defaultSpec())

	_, err := o.Submit(context.Background(), SubmitRequest{Type: "link_outreach"})
	if fault.KindOf(err) != fault.KindCapability {
		t.Errorf("expected capability fault, got %v", err)
	}
}

func TestCreateAgentDegradesOnIndexFailure(t *testing.T) {
	o := newTestOrchestrator(t, failingEmbedder{})

	spec := defaultSpec()
	spec.EnableRetrieval = true
	spec.Knowledge = []retrieval.Document{{Text: "seo knowledge base"}}

	desc, err := o.CreateAgent(context.Background(), spec)
	if err != nil {
		t.Fatalf("index failure must degrade, not fail creation: %v", err)
	}
	if desc.EnableRetrieval {
		t.Error("degraded agent should have retrieval disabled")
	}

	// The degraded agent still executes tasks.
	tk, err := o.Submit(context.Background(), SubmitRequest{Type: "reporting"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view := awaitTerminal(t, o, tk.ID); view.Status != StatusDone {
		t.Errorf("degraded agent should complete tasks, got %s", view.Status)
	}
}

func TestAgentWithRetrievalAndProvider(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	spec := defaultSpec()
	spec.EnableRetrieval = true
	spec.EnableProvider = true
	spec.Knowledge = []retrieval.Document{
		{Text: "acme.io targets mid-market saas buyers with long-form comparison content"},
	}
	if _, err := o.CreateAgent(context.Background(), spec); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	tk, err := o.Submit(context.Background(), SubmitRequest{
		Type:    "keyword_research",
		Payload: map[string]any{"query": "acme.io comparison content"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	view := awaitTerminal(t, o, tk.ID)
	if view.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", view.Status, view.Result.Error)
	}

	health := o.AggregateHealth()
	if _, ok := health.Agents["op-1"]; !ok {
		t.Error("provider-enabled agent should report health")
	}
}

// failingProvider makes every agent execution fail.
type failingProvider struct{}

func (failingProvider) ID() string   { return "down" }
func (failingProvider) Name() string { return "down" }

func (failingProvider) Chat(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("provider offline")
}

func (failingProvider) HealthCheck(context.Context) error { return errors.New("provider offline") }

func TestFailedExecutionReleasesSlot(t *testing.T) {
	store := cache.NewMemory(0, zap.NewNop())
	t.Cleanup(func() { store.Close() })
	router := llm.NewRouter(zap.NewNop())
	router.Register(failingProvider{})
	o := New(Config{
		EscalationAttempts: 1,
		EscalationDelay:    time.Millisecond,
	}, registry.New(zap.NewNop()), router,
		embedding.NewLocalClient(embedding.Config{Dimension: 64}),
		store, nil, nil, nil, zap.NewNop())

	desc, err := o.CreateAgent(context.Background(), defaultSpec())
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	tk, err := o.Submit(context.Background(), SubmitRequest{Type: "reporting"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	view := awaitTerminal(t, o, tk.ID)
	if view.Status != StatusFailed {
		t.Fatalf("expected failure from the offline provider, got %s", view.Status)
	}
	if load := desc.CurrentLoad(); load != 0 {
		t.Errorf("failed execution must release the slot, load=%d", load)
	}
	if desc.ErrorCount() != 1 {
		t.Errorf("failed execution should record one error, got %d", desc.ErrorCount())
	}
}

func TestFinalizeIsTerminal(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	tk := &Task{ID: "t1", Type: TaskReporting, Priority: PriorityMedium, CreatedAt: time.Now()}
	o.tasks[tk.ID] = &trackedTask{task: tk, status: StatusRunning}

	o.finalize(tk, &Result{TaskID: tk.ID, Status: StatusDone, Output: "first"})
	o.finalize(tk, &Result{TaskID: tk.ID, Status: StatusFailed, Error: "second"})

	view, _ := o.GetTask(tk.ID)
	if view.Status != StatusDone || view.Result.Output != "first" {
		t.Error("terminal results must never be overwritten")
	}
}

func TestFinalizeMarksLate(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	tk := &Task{
		ID: "t1", Type: TaskReporting, Priority: PriorityMedium,
		CreatedAt: time.Now().Add(-time.Minute),
		Deadline:  time.Now().Add(-time.Second),
	}
	o.tasks[tk.ID] = &trackedTask{task: tk, status: StatusRunning}

	o.finalize(tk, &Result{TaskID: tk.ID, Status: StatusDone, Output: "report"})

	view, _ := o.GetTask(tk.ID)
	if !view.Result.Late {
		t.Error("completion after the deadline must set the late flag")
	}
	if view.Status != StatusDone {
		t.Errorf("late completion still counts as done, got %s", view.Status)
	}
}

func TestGetTaskUnknown(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	if _, ok := o.GetTask("nope"); ok {
		t.Error("unknown task should not be found")
	}
}

func TestDeregisterAgent(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	o.CreateAgent(context.Background(), defaultSpec())

	if !o.DeregisterAgent("op-1") {
		t.Fatal("deregister should succeed")
	}
	if len(o.Agents()) != 0 {
		t.Error("deregistered agent should be gone")
	}
	if _, err := o.Submit(context.Background(), SubmitRequest{Type: "reporting"}); fault.KindOf(err) != fault.KindCapability {
		t.Errorf("no agents left should yield capability fault, got %v", err)
	}
}
