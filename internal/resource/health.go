package resource

import (
	"sync"
	"time"
)

// degradedThreshold is the number of consecutive primary failures
// after which the provider reports degraded.
const degradedThreshold = 3

// healthState is the rolling health record for one provider. Fallback
// successes do not reset the failure count; only a primary success
// proves the remote source recovered.
type healthState struct {
	mu                  sync.Mutex
	componentID         string
	status              Status
	lastSuccessAt       time.Time
	consecutiveFailures int
}

func newHealthState(componentID string) *healthState {
	return &healthState{componentID: componentID, status: StatusHealthy}
}

func (h *healthState) recordPrimarySuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
	h.status = StatusHealthy
	h.lastSuccessAt = time.Now()
}

func (h *healthState) recordPrimaryFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	if h.status != StatusUnavailable && h.consecutiveFailures >= degradedThreshold {
		h.status = StatusDegraded
	}
}

func (h *healthState) recordFallbackSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	// The fallback path still works, so the provider is at worst degraded.
	if h.status == StatusUnavailable {
		h.status = StatusDegraded
	}
}

func (h *healthState) recordFallbackFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusUnavailable
}

func (h *healthState) record() HealthRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthRecord{
		ComponentID:         h.componentID,
		Status:              h.status,
		LastSuccessAt:       h.lastSuccessAt,
		ConsecutiveFailures: h.consecutiveFailures,
	}
}
