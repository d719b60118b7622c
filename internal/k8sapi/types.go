package k8sapi

import "time"

// AnnotationPrefix is the vendor prefix for every annotation the core reads
// or writes.
const AnnotationPrefix = "manager.cicd.skao.int/"

// Reserved annotation keys (§3 of the spec this module implements).
const (
	AnnotationManaged           = AnnotationPrefix + "managed"
	AnnotationStatus            = AnnotationPrefix + "status"
	AnnotationStatusTimestamp   = AnnotationPrefix + "status_timestamp"
	AnnotationStatusFinalizeAt  = AnnotationPrefix + "status_finalize_at"
	AnnotationStatusTimeframe   = AnnotationPrefix + "status_timeframe"
	AnnotationFailingResources  = AnnotationPrefix + "failing_resources"
	AnnotationOwner             = AnnotationPrefix + "owner"
	AnnotationNotifiedTimestamp = AnnotationPrefix + "notified_timestamp"
	AnnotationNotifiedStatus    = AnnotationPrefix + "notified_status"
	AnnotationAction            = AnnotationPrefix + "action"
	AnnotationNamespace         = AnnotationPrefix + "namespace"
	AnnotationSpecHash          = AnnotationPrefix + "spec_hash"
)

// LabelAuthor and AnnotationAuthorMail are read by the probe's get-owner-info
// action from the namespace the CI pipeline created.
const (
	LabelAuthor          = "cicd.skao.int/author"
	AnnotationAuthorMail = "cicd.skao.int/authorEmail"
)

// Status is a namespace's health classification.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusOK       Status = "ok"
	StatusStale    Status = "stale"
	StatusUnstable Status = "unstable"
	StatusFailing  Status = "failing"
	StatusFailed   Status = "failed"
)

// MetricCode is the numeric status code the collect controller publishes on
// the namespace_manager_ns_count gauge.
func (s Status) MetricCode() float64 {
	switch s {
	case StatusOK:
		return 0
	case StatusStale:
		return 1
	case StatusFailing:
		return 2
	case StatusFailed:
		return 3
	case StatusUnstable:
		return 4
	default:
		return 5
	}
}

// DenyList is the set of namespaces the manager never adopts or acts upon.
var DenyList = map[string]bool{
	"kube-system":     true,
	"kube-public":     true,
	"kube-node-lease": true,
	"default":         true,
}

// Namespace is the DTO the matcher and state machine operate on; it never
// exposes native client-go types to the rest of the core.
type Namespace struct {
	Name              string
	Labels            map[string]string
	Annotations       map[string]string
	CreationTimestamp time.Time
	Terminating       bool
}

// WorkloadRef identifies a Deployment/StatefulSet/ReplicaSet/DaemonSet found
// failing by the probe's k8s-API fallback.
type WorkloadRef struct {
	Kind string
	Name string
}
