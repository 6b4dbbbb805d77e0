package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/agent"
	"github.com/seopilot/seopilot/internal/cache"
	"github.com/seopilot/seopilot/internal/embedding"
	"github.com/seopilot/seopilot/internal/fault"
	"github.com/seopilot/seopilot/internal/llm"
	"github.com/seopilot/seopilot/internal/notify"
	"github.com/seopilot/seopilot/internal/registry"
	"github.com/seopilot/seopilot/internal/resource"
	"github.com/seopilot/seopilot/internal/retrieval"
	"github.com/seopilot/seopilot/internal/store"
	"github.com/seopilot/seopilot/internal/vectorstore"
)

// Config tunes the orchestration facade.
type Config struct {
	Router   RouterConfig
	Resource resource.ProviderConfig

	TopK      int
	Threshold float32
	ChunkSize int
	Overlap   int

	// Capability escalation: how often routing is retried for a task
	// no agent can serve yet before the escalation fires.
	EscalationAttempts int
	EscalationDelay    time.Duration

	ResourceEndpoint string
	ResourceAPIKey   string
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.Threshold == 0 {
		c.Threshold = 0.7
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 400
	}
	if c.Overlap <= 0 {
		c.Overlap = 80
	}
	if c.EscalationAttempts <= 0 {
		c.EscalationAttempts = 3
	}
	if c.EscalationDelay == 0 {
		c.EscalationDelay = 250 * time.Millisecond
	}
	return c
}

// AgentSpec describes an agent to create.
type AgentSpec struct {
	ID              string               `json:"id,omitempty"`
	Tier            registry.Tier        `json:"tier"`
	Capabilities    []string             `json:"capabilities"`
	MaxConcurrent   int                  `json:"max_concurrent"`
	Model           string               `json:"model,omitempty"`
	EnableRetrieval bool                 `json:"enable_retrieval"`
	EnableProvider  bool                 `json:"enable_provider"`
	Knowledge       []retrieval.Document `json:"-"`
}

// trackedTask is the in-memory lifecycle record of one submission.
type trackedTask struct {
	task   *Task
	status Status
	result *Result
}

// Orchestrator is the system facade: agent lifecycle, task submission
// and polling, and aggregate health.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	router   *Router
	llm      *llm.Router
	embedder embedding.Client
	cache    cache.Cache
	vectors  *vectorstore.Client
	audit    *store.Store
	notifier *notify.Slack
	logger   *zap.Logger

	mu     sync.RWMutex
	agents map[string]*agent.Agent
	tasks  map[string]*trackedTask
}

// New wires the facade. vectors, audit and notifier may be nil.
func New(cfg Config, reg *registry.Registry, llmRouter *llm.Router, embedder embedding.Client,
	cacheStore cache.Cache, vectors *vectorstore.Client, audit *store.Store,
	notifier *notify.Slack, logger *zap.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:      cfg,
		registry: reg,
		router:   NewRouter(reg, cfg.Router, logger),
		llm:      llmRouter,
		embedder: embedder,
		cache:    cacheStore,
		vectors:  vectors,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		agents:   make(map[string]*agent.Agent),
		tasks:    make(map[string]*trackedTask),
	}
}

// CreateAgent registers a new agent. Component initialization failures
// degrade the agent (the flag is cleared and the agent runs without
// that component) rather than failing creation.
func (o *Orchestrator) CreateAgent(ctx context.Context, spec AgentSpec) (*registry.Descriptor, error) {
	desc := &registry.Descriptor{
		ID:              spec.ID,
		Tier:            spec.Tier,
		Capabilities:    spec.Capabilities,
		MaxConcurrent:   spec.MaxConcurrent,
		EnableRetrieval: spec.EnableRetrieval,
		EnableProvider:  spec.EnableProvider,
	}
	if err := o.registry.Register(desc); err != nil {
		return nil, err
	}

	var index *retrieval.Index
	if desc.EnableRetrieval {
		index = retrieval.NewIndex(desc.ID, o.embedder, o.logger)
		if o.vectors != nil {
			index.AttachStore(o.vectors, "agent_"+desc.ID)
		}
		if len(spec.Knowledge) == 0 && o.vectors != nil {
			// Warm restart: no fresh documents, pull the mirrored chunks back.
			if err := index.Reload(ctx); err != nil {
				o.logger.Warn("index reload from vectorstore failed",
					zap.String("agent", desc.ID), zap.Error(err))
			} else {
				o.logger.Info("index reloaded from vectorstore",
					zap.String("agent", desc.ID), zap.Int("chunks", index.Len()))
			}
		} else if err := index.Build(ctx, spec.Knowledge, o.cfg.ChunkSize, o.cfg.Overlap); err != nil {
			o.logger.Warn("retrieval index build failed, agent degraded",
				zap.String("agent", desc.ID), zap.Error(err))
			desc.EnableRetrieval = false
			index = nil
		}
	}

	var provider *resource.Provider
	if desc.EnableProvider {
		var primary resource.Source = resource.NewLocalSource()
		if o.cfg.ResourceEndpoint != "" {
			primary = resource.NewHTTPSource(o.cfg.ResourceEndpoint, o.cfg.ResourceAPIKey, o.logger)
		}
		provider = resource.NewProvider(desc.ID, primary, resource.NewLocalSource(),
			o.cache, o.cfg.Resource, o.logger)
	}

	a := agent.New(desc, index, provider, o.llm, agent.Config{
		Model:     spec.Model,
		TopK:      o.cfg.TopK,
		Threshold: o.cfg.Threshold,
	}, o.logger)

	o.mu.Lock()
	o.agents[desc.ID] = a
	o.mu.Unlock()

	o.logger.Info("agent created",
		zap.String("id", desc.ID),
		zap.String("tier", string(desc.Tier)),
		zap.Bool("retrieval", desc.EnableRetrieval),
		zap.Bool("provider", desc.EnableProvider))
	return desc, nil
}

// DeregisterAgent removes an agent; in-flight tasks run to completion.
func (o *Orchestrator) DeregisterAgent(id string) bool {
	if !o.registry.Deregister(id) {
		return false
	}
	o.mu.Lock()
	delete(o.agents, id)
	o.mu.Unlock()
	return true
}

// SubmitRequest is one task submission.
type SubmitRequest struct {
	Type     string         `json:"type"`
	Priority string         `json:"priority,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Deadline time.Time      `json:"deadline,omitempty"`
}

// Submit validates and routes a task. Overloaded, Capability and
// Validation faults surface synchronously; accepted tasks execute
// asynchronously and are observed via GetTask.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	taskType, err := ParseTaskType(req.Type)
	if err != nil {
		return nil, err
	}
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Priority:  priority,
		Payload:   req.Payload,
		CreatedAt: time.Now(),
		Deadline:  req.Deadline,
	}

	ticket, err := o.dispatchWithEscalation(ctx, task)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.tasks[task.ID] = &trackedTask{task: task, status: StatusQueued}
	o.mu.Unlock()

	if o.audit != nil {
		if serr := o.audit.SaveTask(ctx, &store.TaskRecord{
			ID:        task.ID,
			Type:      string(task.Type),
			Priority:  string(task.Priority),
			Status:    string(StatusQueued),
			CreatedAt: task.CreatedAt,
		}); serr != nil {
			o.logger.Warn("audit save failed", zap.String("task", task.ID), zap.Error(serr))
		}
	}

	go o.run(task, ticket)
	return task, nil
}

// dispatchWithEscalation retries capability misses a bounded number of
// times (agents may still be registering), then fires the escalation.
func (o *Orchestrator) dispatchWithEscalation(ctx context.Context, task *Task) (*Ticket, error) {
	var lastErr error
	for attempt := 0; attempt < o.cfg.EscalationAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(o.cfg.EscalationDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ticket, err := o.router.Dispatch(task)
		if err == nil {
			return ticket, nil
		}
		lastErr = err
		if fault.KindOf(err) != fault.KindCapability {
			if fault.KindOf(err) == fault.KindOverloaded {
				o.escalate(task, ReasonQueueFull)
			}
			return nil, err
		}
	}
	o.escalate(task, ReasonNoCapableAgent)
	return nil, lastErr
}

func (o *Orchestrator) escalate(task *Task, reason EscalationReason) {
	sig := EscalationSignal{TaskID: task.ID, Reason: reason}
	o.logger.Warn("task escalated",
		zap.String("task", sig.TaskID),
		zap.String("type", string(task.Type)),
		zap.String("reason", string(sig.Reason)))
	if o.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.notifier.EscalationAlert(ctx, sig.TaskID, string(task.Type), string(sig.Reason))
	}
}

// run drives one accepted task through assignment, execution and
// finalization. It owns the task's status transitions.
func (o *Orchestrator) run(task *Task, ticket *Ticket) {
	ctx := context.Background()

	desc, err := o.router.Await(ctx, ticket)
	if err != nil {
		o.finalize(task, &Result{
			TaskID:    task.ID,
			Status:    StatusFailed,
			Error:     err.Error(),
			ErrorKind: fault.KindOf(err).String(),
			Component: fault.ComponentOf(err),
			Retryable: fault.IsTransient(err),
		})
		return
	}
	o.setStatus(task.ID, StatusRouted)

	o.mu.RLock()
	a := o.agents[desc.ID]
	o.mu.RUnlock()

	start := time.Now()
	if a == nil {
		// Descriptor outlived its agent; the slot must still be freed.
		o.router.Complete(desc, time.Since(start), false)
		o.finalize(task, &Result{
			TaskID:    task.ID,
			AgentID:   desc.ID,
			Status:    StatusFailed,
			Error:     fmt.Sprintf("agent %s no longer exists", desc.ID),
			ErrorKind: fault.KindCapability.String(),
			Component: "orchestrator",
		})
		return
	}

	o.setStatus(task.ID, StatusRunning)

	output, latency, execErr := o.execute(ctx, a, desc, task)

	result := &Result{
		TaskID:   task.ID,
		AgentID:  desc.ID,
		Duration: latency,
	}
	if execErr != nil {
		result.Status = StatusFailed
		result.Error = execErr.Error()
		result.ErrorKind = fault.KindOf(execErr).String()
		result.Component = fault.ComponentOf(execErr)
		result.Retryable = fault.IsTransient(execErr)
	} else {
		result.Status = StatusDone
		result.Output = output.Text
	}
	o.finalize(task, result)
}

// execute runs the task on its assigned agent. The slot release is
// deferred so the agent's load decrements on every exit path.
func (o *Orchestrator) execute(ctx context.Context, a *agent.Agent, desc *registry.Descriptor, task *Task) (out *agent.Output, latency time.Duration, err error) {
	start := time.Now()
	defer func() {
		latency = time.Since(start)
		o.router.Complete(desc, latency, err == nil)
	}()

	if !task.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, task.Deadline)
		defer cancel()
	}
	out, err = a.Execute(ctx, &agent.Task{
		ID:      task.ID,
		Type:    string(task.Type),
		Payload: task.Payload,
	})
	return
}

// setStatus advances a non-terminal task.
func (o *Orchestrator) setStatus(taskID string, status Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.tasks[taskID]; ok && !t.status.Terminal() {
		t.status = status
	}
}

// finalize records the terminal result exactly once. A completion that
// beat the deadline race is marked late rather than rewritten.
func (o *Orchestrator) finalize(task *Task, result *Result) {
	result.CompletedAt = time.Now()
	result.Late = task.Expired(result.CompletedAt)

	o.mu.Lock()
	t, ok := o.tasks[task.ID]
	if !ok || t.status.Terminal() {
		o.mu.Unlock()
		return
	}
	t.status = result.Status
	t.result = result
	o.mu.Unlock()

	o.logger.Info("task finished",
		zap.String("task", task.ID),
		zap.String("status", string(result.Status)),
		zap.String("agent", result.AgentID),
		zap.Bool("late", result.Late),
		zap.Duration("duration", result.Duration))

	if o.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		completed := result.CompletedAt
		if err := o.audit.SaveResult(ctx, &store.TaskRecord{
			ID:          task.ID,
			Type:        string(task.Type),
			Priority:    string(task.Priority),
			Status:      string(result.Status),
			AgentID:     result.AgentID,
			Output:      result.Output,
			Error:       result.Error,
			ErrorKind:   result.ErrorKind,
			Late:        result.Late,
			DurationMS:  result.Duration.Milliseconds(),
			CreatedAt:   task.CreatedAt,
			CompletedAt: &completed,
		}); err != nil {
			o.logger.Warn("audit result save failed", zap.String("task", task.ID), zap.Error(err))
		}
	}
}

// TaskView is the polling snapshot of one task.
type TaskView struct {
	Task   *Task   `json:"task"`
	Status Status  `json:"status"`
	Result *Result `json:"result,omitempty"`
}

// GetTask returns the current state of a submitted task.
func (o *Orchestrator) GetTask(id string) (*TaskView, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tasks[id]
	if !ok {
		return nil, false
	}
	return &TaskView{Task: t.task, Status: t.status, Result: t.result}, true
}

// TaskHistory returns recent task records, newest first. With an audit
// store configured it reads the persisted trail; otherwise the
// in-memory tracked tasks serve.
func (o *Orchestrator) TaskHistory(ctx context.Context, limit int) ([]*store.TaskRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if o.audit != nil {
		return o.audit.ListTasks(ctx, limit)
	}

	o.mu.RLock()
	recs := make([]*store.TaskRecord, 0, len(o.tasks))
	for _, t := range o.tasks {
		rec := &store.TaskRecord{
			ID:        t.task.ID,
			Type:      string(t.task.Type),
			Priority:  string(t.task.Priority),
			Status:    string(t.status),
			CreatedAt: t.task.CreatedAt,
		}
		if t.result != nil {
			rec.AgentID = t.result.AgentID
			rec.Output = t.result.Output
			rec.Error = t.result.Error
			rec.ErrorKind = t.result.ErrorKind
			rec.Late = t.result.Late
			rec.DurationMS = t.result.Duration.Milliseconds()
			completed := t.result.CompletedAt
			rec.CompletedAt = &completed
		}
		recs = append(recs, rec)
	}
	o.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Agents returns snapshots of all registered agents.
func (o *Orchestrator) Agents() []registry.Snapshot {
	descs := o.registry.List()
	out := make([]registry.Snapshot, len(descs))
	for i, d := range descs {
		out[i] = d.Snapshot()
	}
	return out
}

// Health is the aggregate view reported by the health endpoint.
type Health struct {
	Status resource.Status                  `json:"status"`
	Agents map[string]resource.HealthRecord `json:"agents"`
	Queues map[Priority]int                 `json:"queues"`
}

// AggregateHealth folds per-agent provider health into one status.
// Any degraded or unavailable provider degrades the whole; agents
// created without a provider do not count against it.
func (o *Orchestrator) AggregateHealth() Health {
	o.mu.RLock()
	agents := make(map[string]*agent.Agent, len(o.agents))
	for id, a := range o.agents {
		agents[id] = a
	}
	o.mu.RUnlock()

	h := Health{
		Status: resource.StatusHealthy,
		Agents: make(map[string]resource.HealthRecord, len(agents)),
		Queues: o.router.QueueDepths(),
	}
	for id, a := range agents {
		if !a.Descriptor().EnableProvider {
			continue
		}
		rec := a.ResourceHealth()
		h.Agents[id] = rec
		if rec.Status != resource.StatusHealthy {
			h.Status = resource.StatusDegraded
		}
	}
	return h
}
