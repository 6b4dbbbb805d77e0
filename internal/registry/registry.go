// Package registry holds the set of instantiated agent handles, their
// declared capabilities and lightweight runtime stats. It is an
// explicit object passed by reference, so independent orchestration
// instances can coexist in one process.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/fault"
)

// Tier places an agent in the agency hierarchy.
type Tier string

const (
	TierExecutive   Tier = "executive"
	TierManagement  Tier = "management"
	TierOperational Tier = "operational"
)

// ewmaAlpha weights the most recent latency sample.
const ewmaAlpha = 0.3

// Descriptor describes one registered agent. Load counters are atomic;
// the router mutates them from concurrent task completions.
type Descriptor struct {
	ID              string   `json:"id"`
	Tier            Tier     `json:"tier"`
	Capabilities    []string `json:"capabilities"`
	MaxConcurrent   int      `json:"max_concurrent"`
	EnableRetrieval bool     `json:"enabled_retrieval"`
	EnableProvider  bool     `json:"enabled_provider"`

	load     atomic.Int32
	errors   atomic.Int64
	disabled atomic.Bool

	latMu      sync.Mutex
	avgLatency time.Duration
}

// HasCapability reports whether the descriptor declares taskType.
func (d *Descriptor) HasCapability(taskType string) bool {
	for _, c := range d.Capabilities {
		if c == taskType {
			return true
		}
	}
	return false
}

// CurrentLoad returns the number of tasks the agent is running.
func (d *Descriptor) CurrentLoad() int { return int(d.load.Load()) }

// TryAcquire claims one execution slot. It fails when the agent is at
// MaxConcurrent or disabled.
func (d *Descriptor) TryAcquire() bool {
	if d.disabled.Load() {
		return false
	}
	for {
		cur := d.load.Load()
		if int(cur) >= d.MaxConcurrent {
			return false
		}
		if d.load.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release frees one execution slot. Safe to call exactly once per
// successful TryAcquire, success or failure.
func (d *Descriptor) Release() {
	if d.load.Add(-1) < 0 {
		// Unbalanced release; clamp rather than corrupt routing scores.
		d.load.Store(0)
	}
}

// RecordLatency folds one completed-task latency into the EWMA.
func (d *Descriptor) RecordLatency(latency time.Duration) {
	d.latMu.Lock()
	defer d.latMu.Unlock()
	if d.avgLatency == 0 {
		d.avgLatency = latency
		return
	}
	d.avgLatency = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(d.avgLatency))
}

// AvgLatency returns the recent average task latency.
func (d *Descriptor) AvgLatency() time.Duration {
	d.latMu.Lock()
	defer d.latMu.Unlock()
	return d.avgLatency
}

// RecordError bumps the agent's error counter.
func (d *Descriptor) RecordError() { d.errors.Add(1) }

// ErrorCount returns the total errors observed for this agent.
func (d *Descriptor) ErrorCount() int64 { return d.errors.Load() }

// Enabled reports whether the agent accepts new tasks.
func (d *Descriptor) Enabled() bool { return !d.disabled.Load() }

// SetEnabled toggles whether the agent accepts new tasks.
func (d *Descriptor) SetEnabled(enabled bool) { d.disabled.Store(!enabled) }

// Snapshot is a point-in-time JSON-friendly view of a descriptor.
type Snapshot struct {
	ID              string        `json:"id"`
	Tier            Tier          `json:"tier"`
	Capabilities    []string      `json:"capabilities"`
	MaxConcurrent   int           `json:"max_concurrent"`
	CurrentLoad     int           `json:"current_load"`
	EnableRetrieval bool          `json:"enabled_retrieval"`
	EnableProvider  bool          `json:"enabled_provider"`
	Enabled         bool          `json:"enabled"`
	AvgLatency      time.Duration `json:"avg_latency"`
	ErrorCount      int64         `json:"error_count"`
}

// Snapshot captures the descriptor's current state.
func (d *Descriptor) Snapshot() Snapshot {
	return Snapshot{
		ID:              d.ID,
		Tier:            d.Tier,
		Capabilities:    d.Capabilities,
		MaxConcurrent:   d.MaxConcurrent,
		CurrentLoad:     d.CurrentLoad(),
		EnableRetrieval: d.EnableRetrieval,
		EnableProvider:  d.EnableProvider,
		Enabled:         d.Enabled(),
		AvgLatency:      d.AvgLatency(),
		ErrorCount:      d.ErrorCount(),
	}
}

// Registry is the process-local table of agent descriptors.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Descriptor
	logger *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{agents: make(map[string]*Descriptor), logger: logger}
}

// Register adds a descriptor, assigning an ID when empty.
func (r *Registry) Register(d *Descriptor) error {
	if d.MaxConcurrent <= 0 {
		return fault.Newf(fault.KindValidation, "registry", "agent %q needs max_concurrent > 0", d.ID)
	}
	if len(d.Capabilities) == 0 {
		return fault.Newf(fault.KindValidation, "registry", "agent %q declares no capabilities", d.ID)
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[d.ID]; exists {
		return fault.Newf(fault.KindValidation, "registry", "agent %q already registered", d.ID)
	}
	r.agents[d.ID] = d
	r.logger.Info("registered agent",
		zap.String("id", d.ID),
		zap.String("tier", string(d.Tier)),
		zap.Strings("capabilities", d.Capabilities))
	return nil
}

// Deregister removes an agent by ID.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return false
	}
	delete(r.agents, id)
	r.logger.Info("deregistered agent", zap.String("id", id))
	return true
}

// Get returns a descriptor by ID.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.agents[id]
	return d, ok
}

// List returns all descriptors ordered by ID for determinism.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.agents))
	for _, d := range r.agents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Capable returns the enabled agents declaring taskType, ordered by
// ID for determinism.
func (r *Registry) Capable(taskType string) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.List() {
		if d.Enabled() && d.HasCapability(taskType) {
			out = append(out, d)
		}
	}
	return out
}
