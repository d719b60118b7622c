// Package statemachine implements the namespace health state machine:
// given evidence (TTL age, failing workloads) and the namespace's current
// annotations, it produces the next status and the annotations that record
// it.
package statemachine

import (
	"sort"
	"strings"
	"time"

	"github.com/ska-telescope/ska-namespace-manager/internal/durationfmt"
	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
)

// Durations bundles the three timers a namespace's policy configures.
type Durations struct {
	TTL            time.Duration
	SettlingPeriod time.Duration
	GracePeriod    time.Duration
}

// Result is the outcome of one evaluation: the status to set (if any
// change is needed) and the annotations that go with it.
type Result struct {
	// Changed reports whether Status differs from the namespace's current
	// status annotation. When false, only Annotations should be merged in
	// (refreshing failing_resources etc.) and status_timestamp must not be
	// touched.
	Changed     bool
	Status      k8sapi.Status
	Annotations map[string]string
}

// Evaluate runs one tick of the state machine for ns.
func Evaluate(ns k8sapi.Namespace, durations Durations, failing []k8sapi.WorkloadRef, now time.Time) Result {
	currentStatus := k8sapi.Status(ns.Annotations[k8sapi.AnnotationStatus])
	statusTimestamp := parseTimestamp(ns.Annotations[k8sapi.AnnotationStatusTimestamp], now)

	if isStale(ns, durations, now) {
		staleAnnotations := map[string]string{
			k8sapi.AnnotationStatusFinalizeAt: durationfmt.FormatUTC(ns.CreationTimestamp.Add(durations.TTL)),
			k8sapi.AnnotationStatusTimeframe:  durationfmt.Format(durations.TTL),
		}
		if currentStatus == k8sapi.StatusStale {
			return Result{Changed: false, Status: currentStatus, Annotations: staleAnnotations}
		}
		return setStatus(currentStatus, k8sapi.StatusStale, now, staleAnnotations)
	}

	if len(failing) == 0 {
		okAnnotations := map[string]string{k8sapi.AnnotationFailingResources: ""}
		if durations.TTL > 0 {
			okAnnotations[k8sapi.AnnotationStatusFinalizeAt] = durationfmt.FormatUTC(ns.CreationTimestamp.Add(durations.TTL))
			okAnnotations[k8sapi.AnnotationStatusTimeframe] = durationfmt.Format(durations.TTL)
		}
		if currentStatus == k8sapi.StatusOK {
			return Result{Changed: false, Status: currentStatus, Annotations: okAnnotations}
		}
		return setStatus(currentStatus, k8sapi.StatusOK, now, okAnnotations)
	}

	annotations := map[string]string{
		k8sapi.AnnotationFailingResources: formatFailingResources(failing),
		k8sapi.AnnotationStatusFinalizeAt: durationfmt.FormatUTC(statusTimestamp.Add(durations.GracePeriod)),
		k8sapi.AnnotationStatusTimeframe:  durationfmt.Format(durations.GracePeriod),
	}

	// A promotion starts the new status now, so its deadline counts from now.
	promote := func(next k8sapi.Status) Result {
		annotations[k8sapi.AnnotationStatusFinalizeAt] = durationfmt.FormatUTC(now.Add(durations.GracePeriod))
		return setStatus(currentStatus, next, now, annotations)
	}

	switch currentStatus {
	case k8sapi.StatusOK, k8sapi.StatusUnknown, "":
		return promote(k8sapi.StatusUnstable)
	case k8sapi.StatusUnstable:
		if now.Sub(statusTimestamp) >= durations.SettlingPeriod {
			return promote(k8sapi.StatusFailing)
		}
	case k8sapi.StatusFailing:
		if now.Sub(statusTimestamp) >= durations.GracePeriod {
			return promote(k8sapi.StatusFailed)
		}
	}

	return Result{Changed: false, Status: currentStatus, Annotations: annotations}
}

func isStale(ns k8sapi.Namespace, durations Durations, now time.Time) bool {
	if durations.TTL <= 0 {
		return false
	}
	return now.Sub(ns.CreationTimestamp) >= durations.TTL
}

func setStatus(current, next k8sapi.Status, now time.Time, extra map[string]string) Result {
	annotations := map[string]string{
		k8sapi.AnnotationStatus:            string(next),
		k8sapi.AnnotationStatusTimestamp:   durationfmt.FormatUTC(now),
		k8sapi.AnnotationNotifiedTimestamp: "",
		k8sapi.AnnotationNotifiedStatus:    "",
	}
	for k, v := range extra {
		annotations[k] = v
	}
	return Result{Changed: current != next, Status: next, Annotations: annotations}
}

func formatFailingResources(failing []k8sapi.WorkloadRef) string {
	names := make([]string, 0, len(failing))
	for _, w := range failing {
		names = append(names, w.Name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	t, err := time.Parse("2006-01-02T15:04:05Z", raw)
	if err != nil {
		return fallback
	}
	return t
}
