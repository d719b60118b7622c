package statemachine

import (
	"testing"
	"time"

	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
)

func TestFreshNamespaceNoFailures(t *testing.T) {
	now := time.Date(2024, 1, 1, 1, 1, 0, 0, time.UTC)
	creation := now.Add(-60 * time.Second)

	ns := k8sapi.Namespace{
		CreationTimestamp: creation,
		Annotations:       map[string]string{},
	}
	durations := Durations{TTL: 7200 * time.Second, GracePeriod: 300 * time.Second}

	got := Evaluate(ns, durations, nil, now)
	if got.Status != k8sapi.StatusOK {
		t.Fatalf("Status = %v, want ok", got.Status)
	}
	if !got.Changed {
		t.Errorf("Changed = false, want true (first transition out of unknown)")
	}
}

func TestStaleDominatesFailures(t *testing.T) {
	now := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	creation := now.Add(-4000 * time.Second)

	ns := k8sapi.Namespace{
		CreationTimestamp: creation,
		Annotations:       map[string]string{k8sapi.AnnotationStatus: "ok"},
	}
	durations := Durations{TTL: 3600 * time.Second}

	failing := []k8sapi.WorkloadRef{{Kind: "Deployment", Name: "dep"}}
	got := Evaluate(ns, durations, failing, now)
	if got.Status != k8sapi.StatusStale {
		t.Fatalf("Status = %v, want stale", got.Status)
	}
}

func TestMonotonicityWithinEpisode(t *testing.T) {
	now := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	ns := k8sapi.Namespace{
		CreationTimestamp: now.Add(-time.Hour),
		Annotations: map[string]string{
			k8sapi.AnnotationStatus:          "ok",
			k8sapi.AnnotationStatusTimestamp: "2024-01-01T02:00:00Z",
		},
	}
	durations := Durations{}

	got := Evaluate(ns, durations, nil, now)
	if got.Changed {
		t.Fatalf("Changed = true, want false (status unchanged)")
	}
	if _, ok := got.Annotations[k8sapi.AnnotationStatusTimestamp]; ok {
		t.Errorf("Annotations contains status_timestamp on an unchanged tick")
	}
}

func TestFullEscalationToFailed(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	durations := Durations{SettlingPeriod: 120 * time.Second, GracePeriod: 300 * time.Second}
	failing := []k8sapi.WorkloadRef{{Kind: "Deployment", Name: "dep"}}

	ns := k8sapi.Namespace{
		CreationTimestamp: start,
		Annotations:       map[string]string{k8sapi.AnnotationStatus: "unknown"},
	}

	tick0 := Evaluate(ns, durations, failing, start)
	if tick0.Status != k8sapi.StatusUnstable || !tick0.Changed {
		t.Fatalf("tick0 = %+v, want changed unstable", tick0)
	}
	applyResult(ns, tick0)

	tick1 := Evaluate(ns, durations, failing, start.Add(60*time.Second))
	if tick1.Changed {
		t.Fatalf("tick1 = %+v, want no change before settling_period elapses", tick1)
	}

	tick2 := Evaluate(ns, durations, failing, start.Add(130*time.Second))
	if tick2.Status != k8sapi.StatusFailing || !tick2.Changed {
		t.Fatalf("tick2 = %+v, want changed failing", tick2)
	}
	applyResult(ns, tick2)

	tick3 := Evaluate(ns, durations, failing, start.Add(440*time.Second))
	if tick3.Status != k8sapi.StatusFailed || !tick3.Changed {
		t.Fatalf("tick3 = %+v, want changed failed", tick3)
	}
}

func TestRecoveryClearsFailure(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	durations := Durations{SettlingPeriod: 120 * time.Second, GracePeriod: 300 * time.Second}

	ns := k8sapi.Namespace{
		CreationTimestamp: start,
		Annotations:       map[string]string{k8sapi.AnnotationStatus: "unknown"},
	}

	failing := []k8sapi.WorkloadRef{{Kind: "Deployment", Name: "dep"}}
	tick0 := Evaluate(ns, durations, failing, start)
	applyResult(ns, tick0)

	tick1 := Evaluate(ns, durations, nil, start.Add(60*time.Second))
	if tick1.Status != k8sapi.StatusOK || !tick1.Changed {
		t.Fatalf("tick1 = %+v, want changed ok", tick1)
	}
	if tick1.Annotations[k8sapi.AnnotationFailingResources] != "" {
		t.Errorf("failing_resources = %q, want empty", tick1.Annotations[k8sapi.AnnotationFailingResources])
	}
}

func applyResult(ns k8sapi.Namespace, result Result) {
	for k, v := range result.Annotations {
		ns.Annotations[k] = v
	}
}
