package registry

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/fault"
)

func testDesc(id string, max int, caps ...string) *Descriptor {
	return &Descriptor{ID: id, Tier: TierOperational, Capabilities: caps, MaxConcurrent: max}
}

func TestRegisterValidation(t *testing.T) {
	r := New(zap.NewNop())

	if err := r.Register(testDesc("a", 0, "reporting")); fault.KindOf(err) != fault.KindValidation {
		t.Errorf("zero max_concurrent should fail validation, got %v", err)
	}
	if err := r.Register(testDesc("a", 2)); fault.KindOf(err) != fault.KindValidation {
		t.Errorf("no capabilities should fail validation, got %v", err)
	}
	if err := r.Register(testDesc("a", 2, "reporting")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(testDesc("a", 2, "reporting")); fault.KindOf(err) != fault.KindValidation {
		t.Errorf("duplicate ID should fail validation, got %v", err)
	}
}

func TestRegisterAssignsID(t *testing.T) {
	r := New(zap.NewNop())
	d := testDesc("", 1, "reporting")
	if err := r.Register(d); err != nil {
		t.Fatalf("register: %v", err)
	}
	if d.ID == "" {
		t.Error("expected generated ID")
	}
}

func TestCapableFiltersAndSorts(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(testDesc("b", 1, "reporting", "lead_scoring"))
	r.Register(testDesc("a", 1, "reporting"))
	r.Register(testDesc("c", 1, "technical_audit"))

	got := r.Capable("reporting")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("expected [a b], got %v", ids(got))
	}
	if len(r.Capable("content_brief")) != 0 {
		t.Error("no agent declares content_brief")
	}
}

func TestCapableExcludesDisabled(t *testing.T) {
	r := New(zap.NewNop())
	d := testDesc("a", 1, "reporting")
	r.Register(d)
	d.SetEnabled(false)
	if len(r.Capable("reporting")) != 0 {
		t.Error("disabled agents must not be routable")
	}
}

func TestTryAcquireBounds(t *testing.T) {
	d := testDesc("a", 2, "reporting")
	if !d.TryAcquire() || !d.TryAcquire() {
		t.Fatal("should acquire up to max_concurrent")
	}
	if d.TryAcquire() {
		t.Error("acquire past max_concurrent must fail")
	}
	d.Release()
	if !d.TryAcquire() {
		t.Error("release should free a slot")
	}
}

func TestTryAcquireConcurrent(t *testing.T) {
	d := testDesc("a", 5, "reporting")
	var wg sync.WaitGroup
	var acquired sync.Map
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if d.TryAcquire() {
				acquired.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	var n int
	acquired.Range(func(any, any) bool { n++; return true })
	if n != 5 {
		t.Errorf("expected exactly 5 winners, got %d", n)
	}
	if d.CurrentLoad() != 5 {
		t.Errorf("load should be 5, got %d", d.CurrentLoad())
	}
}

func TestReleaseClampsAtZero(t *testing.T) {
	d := testDesc("a", 2, "reporting")
	d.Release()
	if d.CurrentLoad() != 0 {
		t.Errorf("unbalanced release must clamp to zero, got %d", d.CurrentLoad())
	}
}

func TestRecordLatencyEWMA(t *testing.T) {
	d := testDesc("a", 1, "reporting")
	d.RecordLatency(time.Second)
	if d.AvgLatency() != time.Second {
		t.Fatalf("first sample sets the average, got %v", d.AvgLatency())
	}
	d.RecordLatency(2 * time.Second)
	got := d.AvgLatency()
	if got <= time.Second || got >= 2*time.Second {
		t.Errorf("EWMA should land between samples, got %v", got)
	}
}

func TestDeregister(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(testDesc("a", 1, "reporting"))
	if !r.Deregister("a") {
		t.Error("deregister existing agent should succeed")
	}
	if r.Deregister("a") {
		t.Error("deregister missing agent should fail")
	}
	if _, ok := r.Get("a"); ok {
		t.Error("deregistered agent should be gone")
	}
}

func ids(ds []*Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}
