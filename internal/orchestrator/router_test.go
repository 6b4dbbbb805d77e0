package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/fault"
	"github.com/seopilot/seopilot/internal/registry"
)

func newTestRouter(t *testing.T, ceiling int, descs ...*registry.Descriptor) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.New(zap.NewNop())
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			t.Fatalf("register %s: %v", d.ID, err)
		}
	}
	return NewRouter(reg, RouterConfig{QueueCeiling: ceiling}, zap.NewNop()), reg
}

func desc(id string, tier registry.Tier, max int, caps ...string) *registry.Descriptor {
	return &registry.Descriptor{ID: id, Tier: tier, Capabilities: caps, MaxConcurrent: max}
}

func task(id string, typ TaskType, prio Priority) *Task {
	return &Task{ID: id, Type: typ, Priority: prio, CreatedAt: time.Now()}
}

func mustAssign(t *testing.T, r *Router, tk *Task) *registry.Descriptor {
	t.Helper()
	ticket, err := r.Dispatch(tk)
	if err != nil {
		t.Fatalf("dispatch %s: %v", tk.ID, err)
	}
	if ticket.Assigned() == nil {
		t.Fatalf("task %s should assign immediately", tk.ID)
	}
	return ticket.Assigned()
}

func TestDispatchRoutesByCapability(t *testing.T) {
	r, _ := newTestRouter(t, 10,
		desc("audit-bot", registry.TierOperational, 2, "technical_audit"),
		desc("writer-bot", registry.TierOperational, 2, "content_brief"),
	)

	d := mustAssign(t, r, task("t1", TaskTechnicalAudit, PriorityMedium))
	if d.ID != "audit-bot" {
		t.Errorf("expected audit-bot, got %s", d.ID)
	}
}

func TestDispatchNoCapableAgent(t *testing.T) {
	r, _ := newTestRouter(t, 10,
		desc("audit-bot", registry.TierOperational, 2, "technical_audit"),
	)

	_, err := r.Dispatch(task("t1", TaskLinkOutreach, PriorityMedium))
	if fault.KindOf(err) != fault.KindCapability {
		t.Errorf("expected capability fault, got %v", err)
	}
}

func TestDispatchExpiredDeadline(t *testing.T) {
	r, _ := newTestRouter(t, 10,
		desc("a", registry.TierOperational, 2, "reporting"),
	)
	tk := task("t1", TaskReporting, PriorityMedium)
	tk.Deadline = time.Now().Add(-time.Second)

	_, err := r.Dispatch(tk)
	if fault.KindOf(err) != fault.KindDeadlineExceeded {
		t.Errorf("expected deadline fault, got %v", err)
	}
}

func TestCriticalGoesToLeastLoaded(t *testing.T) {
	busy := desc("busy", registry.TierOperational, 4, "reporting")
	idle := desc("idle", registry.TierOperational, 4, "reporting")
	r, _ := newTestRouter(t, 10, busy, idle)
	busy.TryAcquire()
	busy.TryAcquire()

	d := mustAssign(t, r, task("t1", TaskReporting, PriorityCritical))
	if d.ID != "idle" {
		t.Errorf("critical task should hit the least-loaded agent, got %s", d.ID)
	}
}

func TestWeightedScorePrefersFreeCapacity(t *testing.T) {
	loaded := desc("loaded", registry.TierOperational, 4, "reporting")
	free := desc("free", registry.TierOperational, 4, "reporting")
	r, _ := newTestRouter(t, 10, loaded, free)
	loaded.TryAcquire()
	loaded.TryAcquire()
	loaded.TryAcquire()

	d := mustAssign(t, r, task("t1", TaskReporting, PriorityMedium))
	if d.ID != "free" {
		t.Errorf("expected the idle agent to win on capacity, got %s", d.ID)
	}
}

func TestTieBreakByID(t *testing.T) {
	// Identical agents: deterministic routing picks the lowest ID.
	r, _ := newTestRouter(t, 10,
		desc("beta", registry.TierOperational, 2, "reporting"),
		desc("alpha", registry.TierOperational, 2, "reporting"),
	)
	d := mustAssign(t, r, task("t1", TaskReporting, PriorityMedium))
	if d.ID != "alpha" {
		t.Errorf("tie should break by ascending ID, got %s", d.ID)
	}
}

func TestDispatchQueuesWhenSaturated(t *testing.T) {
	a := desc("a", registry.TierOperational, 1, "reporting")
	r, _ := newTestRouter(t, 10, a)

	mustAssign(t, r, task("t1", TaskReporting, PriorityMedium))
	ticket, err := r.Dispatch(task("t2", TaskReporting, PriorityMedium))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ticket.Assigned() != nil {
		t.Fatal("saturated agent should force queuing")
	}
	if depths := r.QueueDepths(); depths[PriorityMedium] != 1 {
		t.Errorf("expected medium depth 1, got %v", depths)
	}
}

func TestDispatchOverloadedAtCeiling(t *testing.T) {
	a := desc("a", registry.TierOperational, 1, "reporting")
	r, _ := newTestRouter(t, 1, a)

	mustAssign(t, r, task("t1", TaskReporting, PriorityMedium))
	if _, err := r.Dispatch(task("t2", TaskReporting, PriorityMedium)); err != nil {
		t.Fatalf("first queued dispatch: %v", err)
	}

	_, err := r.Dispatch(task("t3", TaskReporting, PriorityMedium))
	if fault.KindOf(err) != fault.KindOverloaded {
		t.Errorf("expected overloaded fault at ceiling, got %v", err)
	}

	// Other priority classes have their own ceiling.
	if _, err := r.Dispatch(task("t4", TaskReporting, PriorityHigh)); err != nil {
		t.Errorf("high class should still accept, got %v", err)
	}
}

func TestCompleteWakesCriticalFirst(t *testing.T) {
	a := desc("a", registry.TierOperational, 1, "reporting")
	r, _ := newTestRouter(t, 10, a)

	running := mustAssign(t, r, task("t1", TaskReporting, PriorityMedium))

	lowTicket, err := r.Dispatch(task("t-low", TaskReporting, PriorityLow))
	if err != nil {
		t.Fatalf("dispatch low: %v", err)
	}
	critTicket, err := r.Dispatch(task("t-crit", TaskReporting, PriorityCritical))
	if err != nil {
		t.Fatalf("dispatch critical: %v", err)
	}

	r.Complete(running, 10*time.Millisecond, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := r.Await(ctx, critTicket)
	if err != nil {
		t.Fatalf("critical waiter should wake first: %v", err)
	}

	// The low waiter is still parked until the slot frees again.
	if depths := r.QueueDepths(); depths[PriorityLow] != 1 {
		t.Fatalf("low waiter should still be queued, got %v", depths)
	}

	r.Complete(d, 10*time.Millisecond, true)
	if _, err := r.Await(ctx, lowTicket); err != nil {
		t.Fatalf("low waiter should wake after second completion: %v", err)
	}
}

func TestAwaitDeadlineWhileQueued(t *testing.T) {
	a := desc("a", registry.TierOperational, 1, "reporting")
	r, _ := newTestRouter(t, 10, a)

	mustAssign(t, r, task("t1", TaskReporting, PriorityMedium))

	queued := task("t2", TaskReporting, PriorityMedium)
	queued.Deadline = time.Now().Add(50 * time.Millisecond)
	ticket, err := r.Dispatch(queued)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	_, err = r.Await(context.Background(), ticket)
	if fault.KindOf(err) != fault.KindDeadlineExceeded {
		t.Fatalf("expected deadline fault, got %v", err)
	}
	if depths := r.QueueDepths(); depths[PriorityMedium] != 0 {
		t.Errorf("abandoned waiter should leave the queue, got %v", depths)
	}
}

func TestAwaitContextCancel(t *testing.T) {
	a := desc("a", registry.TierOperational, 1, "reporting")
	r, _ := newTestRouter(t, 10, a)

	mustAssign(t, r, task("t1", TaskReporting, PriorityMedium))
	ticket, err := r.Dispatch(task("t2", TaskReporting, PriorityMedium))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Await(ctx, ticket); err == nil {
		t.Fatal("cancelled context should abort the wait")
	}
	if depths := r.QueueDepths(); depths[PriorityMedium] != 0 {
		t.Errorf("cancelled waiter should leave the queue, got %v", depths)
	}
}

func TestCompleteReleasesLoad(t *testing.T) {
	a := desc("a", registry.TierOperational, 1, "reporting")
	r, _ := newTestRouter(t, 10, a)

	d := mustAssign(t, r, task("t1", TaskReporting, PriorityMedium))
	if d.CurrentLoad() != 1 {
		t.Fatalf("expected load 1, got %d", d.CurrentLoad())
	}
	r.Complete(d, 5*time.Millisecond, false)
	if d.CurrentLoad() != 0 {
		t.Errorf("complete should release the slot, load=%d", d.CurrentLoad())
	}
	if d.ErrorCount() != 1 {
		t.Errorf("failed completion should record an error, got %d", d.ErrorCount())
	}
}

func TestDispatchObservesConcurrentRelease(t *testing.T) {
	// A slot freed between Dispatch's failed acquire and its enqueue
	// must still resume the waiter; iterate to widen the race window.
	a := desc("solo", registry.TierOperational, 1, "reporting")
	r, _ := newTestRouter(t, 10, a)

	for i := 0; i < 2000; i++ {
		running := mustAssign(t, r, task(fmt.Sprintf("run-%d", i), TaskReporting, PriorityMedium))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Complete(running, time.Millisecond, true)
		}()

		ticket, err := r.Dispatch(task(fmt.Sprintf("wait-%d", i), TaskReporting, PriorityMedium))
		if err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		d, err := r.Await(ctx, ticket)
		cancel()
		if err != nil {
			t.Fatalf("waiter stranded at iteration %d (load=%d): %v", i, a.CurrentLoad(), err)
		}
		wg.Wait()
		r.Complete(d, time.Millisecond, true)
	}
}

func TestFIFOWithinClass(t *testing.T) {
	a := desc("a", registry.TierOperational, 1, "reporting")
	r, _ := newTestRouter(t, 10, a)

	running := mustAssign(t, r, task("t0", TaskReporting, PriorityMedium))
	first, _ := r.Dispatch(task("t1", TaskReporting, PriorityMedium))
	second, _ := r.Dispatch(task("t2", TaskReporting, PriorityMedium))

	r.Complete(running, time.Millisecond, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := r.Await(ctx, first)
	if err != nil {
		t.Fatalf("first queued task should wake first: %v", err)
	}
	if depths := r.QueueDepths(); depths[PriorityMedium] != 1 {
		t.Fatalf("second task should still be queued, got %v", depths)
	}
	r.Complete(d, time.Millisecond, true)
	if _, err := r.Await(ctx, second); err != nil {
		t.Fatalf("second queued task: %v", err)
	}
}
