package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/fault"
	"github.com/seopilot/seopilot/internal/registry"
)

// Weights tune the routing score. W1 weighs free capacity, W2 the
// tier/priority match, W3 inverse recent latency.
type Weights struct {
	W1 float64 `json:"w1"`
	W2 float64 `json:"w2"`
	W3 float64 `json:"w3"`
}

// DefaultWeights per the routing matrix.
var DefaultWeights = Weights{W1: 0.5, W2: 0.3, W3: 0.2}

// RouterConfig tunes the router.
type RouterConfig struct {
	Weights      Weights
	QueueCeiling int // per priority class
}

// DefaultQueueCeiling bounds each priority class queue.
const DefaultQueueCeiling = 1000

// Router selects target agents for tasks using the capability,
// priority and load matrix, queuing overflow per priority class.
type Router struct {
	reg    *registry.Registry
	cfg    RouterConfig
	logger *zap.Logger

	mu     sync.Mutex
	queues *priorityQueues
}

// NewRouter creates a router over the given registry.
func NewRouter(reg *registry.Registry, cfg RouterConfig, logger *zap.Logger) *Router {
	if cfg.QueueCeiling <= 0 {
		cfg.QueueCeiling = DefaultQueueCeiling
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	return &Router{
		reg:    reg,
		cfg:    cfg,
		logger: logger,
		queues: newPriorityQueues(cfg.QueueCeiling),
	}
}

// Ticket is the outcome of Dispatch: either an immediately assigned
// agent or a queued waiter to Await on.
type Ticket struct {
	agent *registry.Descriptor
	w     *waiter
}

// Assigned returns the agent when routing succeeded immediately.
func (t *Ticket) Assigned() *registry.Descriptor { return t.agent }

// Dispatch routes a task. It returns synchronously: an assigned
// ticket, a queued ticket, or a typed fault (Capability when no agent
// declares the type, Overloaded at the queue ceiling, DeadlineExceeded
// when the deadline already passed).
func (r *Router) Dispatch(task *Task) (*Ticket, error) {
	if task.Expired(time.Now()) {
		return nil, fault.Newf(fault.KindDeadlineExceeded, "router", "task %s deadline passed before routing", task.ID)
	}

	candidates := r.reg.Capable(string(task.Type))
	if len(candidates) == 0 {
		return nil, fault.Newf(fault.KindCapability, "router", "no capable agent for task type %q", task.Type)
	}

	if d := r.assign(task, candidates); d != nil {
		return &Ticket{agent: d}, nil
	}

	// All capable agents at max_concurrent: park in the priority queue.
	w := newWaiter(task)
	r.mu.Lock()
	if !r.queues.push(w) {
		r.mu.Unlock()
		return nil, fault.Newf(fault.KindOverloaded, "router", "queue ceiling %d reached for priority %s", r.cfg.QueueCeiling, task.Priority)
	}
	// A slot released between the failed acquire above and the enqueue
	// wakes an empty queue and would strand this waiter; re-check now
	// that it is visible to wake.
	if d := r.assign(task, candidates); d != nil {
		r.queues.remove(w)
		r.mu.Unlock()
		return &Ticket{agent: d}, nil
	}
	depth := r.queues.depth(task.Priority)
	r.mu.Unlock()
	r.logger.Debug("task queued",
		zap.String("task", task.ID),
		zap.String("priority", string(task.Priority)),
		zap.Int("depth", depth))
	return &Ticket{w: w}, nil
}

// Await blocks until the queued ticket is assigned an agent, the
// context ends, or the task deadline passes. Immediate tickets return
// at once.
func (r *Router) Await(ctx context.Context, ticket *Ticket) (*registry.Descriptor, error) {
	if ticket.agent != nil {
		return ticket.agent, nil
	}
	w := ticket.w

	var deadlineCh <-chan time.Time
	if !w.task.Deadline.IsZero() {
		timer := time.NewTimer(time.Until(w.task.Deadline))
		defer timer.Stop()
		deadlineCh = timer.C
	}

	select {
	case d := <-w.ready:
		if d == nil {
			return nil, w.err
		}
		return d, nil
	case <-deadlineCh:
		return nil, r.abandon(w, fault.Newf(fault.KindDeadlineExceeded, "router", "task %s deadline passed while queued", w.task.ID))
	case <-ctx.Done():
		return nil, r.abandon(w, ctx.Err())
	}
}

// abandon removes a waiter from the queue. If assignment raced ahead,
// the delivered slot is released and the next waiter woken instead.
func (r *Router) abandon(w *waiter, cause error) error {
	r.mu.Lock()
	if !w.assigned {
		w.cancelled = true
		r.queues.remove(w)
		r.mu.Unlock()
		return cause
	}
	r.mu.Unlock()

	// The ready channel is buffered, so the descriptor is already there.
	if d := <-w.ready; d != nil {
		d.Release()
		r.wake()
	}
	return cause
}

// Complete releases the agent's slot, folds in runtime stats, and
// wakes queued waiters. Callers must invoke it exactly once per
// assigned ticket, success or failure.
func (r *Router) Complete(d *registry.Descriptor, latency time.Duration, success bool) {
	d.Release()
	d.RecordLatency(latency)
	if !success {
		d.RecordError()
	}
	r.wake()
}

// QueueDepths reports the current depth per priority class.
func (r *Router) QueueDepths() map[Priority]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[Priority]int{
		PriorityCritical: r.queues.depth(PriorityCritical),
		PriorityHigh:     r.queues.depth(PriorityHigh),
		PriorityMedium:   r.queues.depth(PriorityMedium),
		PriorityLow:      r.queues.depth(PriorityLow),
	}
}

// assign picks the best capable agent with a free slot, or nil.
// Critical tasks bypass the latency score and go to the least-loaded
// capable agent. Ties break by lowest load then ascending ID so
// routing stays deterministic.
func (r *Router) assign(task *Task, candidates []*registry.Descriptor) *registry.Descriptor {
	ranked := append([]*registry.Descriptor(nil), candidates...)
	if task.Priority == PriorityCritical {
		sort.SliceStable(ranked, func(i, j int) bool {
			li, lj := ranked[i].CurrentLoad(), ranked[j].CurrentLoad()
			if li != lj {
				return li < lj
			}
			return ranked[i].ID < ranked[j].ID
		})
	} else {
		scores := make(map[string]float64, len(ranked))
		for _, d := range ranked {
			scores[d.ID] = r.score(task, d)
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			si, sj := scores[ranked[i].ID], scores[ranked[j].ID]
			if si != sj {
				return si > sj
			}
			li, lj := ranked[i].CurrentLoad(), ranked[j].CurrentLoad()
			if li != lj {
				return li < lj
			}
			return ranked[i].ID < ranked[j].ID
		})
	}

	for _, d := range ranked {
		if d.TryAcquire() {
			return d
		}
	}
	return nil
}

// score implements w1*(1 - load/max) + w2*priority_match + w3*(1/latency).
func (r *Router) score(task *Task, d *registry.Descriptor) float64 {
	w := r.cfg.Weights
	capacity := 1.0 - float64(d.CurrentLoad())/float64(d.MaxConcurrent)
	lat := d.AvgLatency()
	if lat <= 0 {
		// No samples yet; assume one second so new agents rank fairly.
		lat = time.Second
	}
	return w.W1*capacity + w.W2*priorityMatch(task.Priority, d.Tier) + w.W3*(1.0/lat.Seconds())
}

// priorityMatch scores tier affinity: urgent work prefers executive
// and management agents, routine work prefers operational ones.
func priorityMatch(p Priority, tier registry.Tier) float64 {
	urgent := p == PriorityCritical || p == PriorityHigh
	senior := tier == registry.TierExecutive || tier == registry.TierManagement
	if urgent == senior {
		return 1.0
	}
	return 0.5
}

// wake hands freed slots to queued waiters, critical class first and
// FIFO within a class. A waiter whose deadline passed while queued is
// failed in place.
func (r *Router) wake() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	progress := true
	for progress {
		progress = false
		r.queues.scan(func(w *waiter) bool {
			if w.assigned || w.cancelled {
				return true
			}
			if w.task.Expired(now) {
				w.err = fault.Newf(fault.KindDeadlineExceeded, "router", "task %s deadline passed while queued", w.task.ID)
				w.assigned = true
				r.queues.remove(w)
				w.ready <- nil
				return true
			}
			candidates := r.reg.Capable(string(w.task.Type))
			if d := r.assign(w.task, candidates); d != nil {
				w.assigned = true
				r.queues.remove(w)
				w.ready <- d
				progress = true
			}
			return true
		})
	}
}
