// Package probe implements the out-of-process checks the collect
// controller's CronJobs/Jobs invoke inside the cluster: check-namespace
// evaluates a namespace's health and writes its status annotations;
// get-owner-info resolves and stamps the namespace's owner.
package probe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ska-telescope/ska-namespace-manager/internal/config"
	"github.com/ska-telescope/ska-namespace-manager/internal/durationfmt"
	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
	"github.com/ska-telescope/ska-namespace-manager/internal/nsmatch"
	"github.com/ska-telescope/ska-namespace-manager/internal/owneraddr"
	"github.com/ska-telescope/ska-namespace-manager/internal/peopleapi"
	"github.com/ska-telescope/ska-namespace-manager/internal/promalerts"
	"github.com/ska-telescope/ska-namespace-manager/internal/statemachine"
)

// CheckNamespace and GetOwnerInfo are the only two probe actions the
// collect controller ever schedules.
const (
	CheckNamespace = "check-namespace"
	GetOwnerInfo   = "get-owner-info"
)

// Runner executes a single probe action against a single target namespace.
// Prometheus and People API clients are optional: a nil promClient falls
// back to the Kubernetes API workload scan, and GetOwnerInfo requires a
// non-nil peopleClient.
type Runner struct {
	adapter      *k8sapi.Adapter
	promClient   *promalerts.Client
	peopleClient *peopleapi.Client
	cfg          config.Config
	matchers     []nsmatch.Matcher
}

// New builds a Runner.
func New(adapter *k8sapi.Adapter, promClient *promalerts.Client, peopleClient *peopleapi.Client, cfg config.Config) *Runner {
	matchers := make([]nsmatch.Matcher, len(cfg.Namespaces))
	for i, ns := range cfg.Namespaces {
		matchers[i] = ns.Matcher()
	}
	return &Runner{adapter: adapter, promClient: promClient, peopleClient: peopleClient, cfg: cfg, matchers: matchers}
}

func toMatchNamespace(ns k8sapi.Namespace) nsmatch.Namespace {
	return nsmatch.Namespace{Name: ns.Name, Labels: ns.Labels, Annotations: ns.Annotations}
}

func (r *Runner) policyFor(ns k8sapi.Namespace) (config.NamespacePolicy, bool) {
	idx := nsmatch.Match(r.matchers, toMatchNamespace(ns))
	if idx < 0 {
		return config.NamespacePolicy{}, false
	}
	return r.cfg.Namespaces[idx], true
}

// Run dispatches to the named action. An unknown action or a namespace that
// no longer exists is reported as an error, which callers translate into a
// non-zero process exit so the CronJob/Job run is marked failed.
func (r *Runner) Run(ctx context.Context, action, targetNamespace string) error {
	switch action {
	case CheckNamespace:
		return r.checkNamespace(ctx, targetNamespace)
	case GetOwnerInfo:
		return r.getOwnerInfo(ctx, targetNamespace)
	default:
		return fmt.Errorf("probe: unknown action %q", action)
	}
}

func (r *Runner) checkNamespace(ctx context.Context, targetNamespace string) error {
	ns := r.adapter.GetNamespace(targetNamespace)
	if ns == nil {
		return fmt.Errorf("probe: namespace %q not found", targetNamespace)
	}
	if ns.Terminating {
		log.Info().Str("namespace", targetNamespace).Msg("namespace is terminating, skipping check-namespace")
		return nil
	}

	policy, ok := r.policyFor(*ns)
	if !ok {
		return fmt.Errorf("probe: no matching policy for namespace %q", targetNamespace)
	}

	failing, failingResourcesJSON := r.collectFailingEvidence(ctx, targetNamespace)

	durations := statemachine.Durations{
		TTL:            policy.TTL,
		SettlingPeriod: policy.SettlingPeriod,
		GracePeriod:    policy.GracePeriod,
	}
	result := statemachine.Evaluate(*ns, durations, failing, durationfmt.Now())
	if failingResourcesJSON != "" {
		result.Annotations[k8sapi.AnnotationFailingResources] = failingResourcesJSON
	}

	if err := r.adapter.PatchNamespace(targetNamespace, nil, result.Annotations); err != nil {
		return fmt.Errorf("probe: patching namespace %q: %w", targetNamespace, err)
	}

	log.Info().Str("namespace", targetNamespace).Str("status", string(result.Status)).Bool("changed", result.Changed).Msg("check-namespace completed")
	return nil
}

// collectFailingEvidence prefers Prometheus alert evidence when enabled and
// reachable, falling back to a direct Kubernetes API workload scan.
// failingResourcesJSON, when non-empty, is the richer Prometheus evidence
// the action controller later formats into notification bodies.
func (r *Runner) collectFailingEvidence(ctx context.Context, targetNamespace string) ([]k8sapi.WorkloadRef, string) {
	if r.promClient != nil && r.cfg.Prometheus.Enabled {
		whitelist := make(map[string]bool, len(r.cfg.Prometheus.WhitelistedAlerts))
		for _, name := range r.cfg.Prometheus.WhitelistedAlerts {
			whitelist[name] = true
		}

		alerts, err := r.promClient.FailingAlerts(ctx, targetNamespace, whitelist)
		if err != nil {
			log.Error().Err(err).Str("namespace", targetNamespace).Msg("failed to fetch prometheus alerts, falling back to kubernetes API")
		} else {
			failing := make([]k8sapi.WorkloadRef, 0, len(alerts))
			for _, alert := range alerts {
				failing = append(failing, k8sapi.WorkloadRef{Kind: "Alert", Name: alert.AlertName})
			}

			raw, marshalErr := json.Marshal(alertRecords(alerts))
			if marshalErr != nil {
				log.Error().Err(marshalErr).Msg("failed to encode prometheus alerts")
				return failing, ""
			}
			return failing, string(raw)
		}
	}

	return r.adapter.FailingWorkloads(targetNamespace, r.cfg.Probe.IncludeDaemonSets), ""
}

type alertRecord struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

func alertRecords(alerts []promalerts.Alert) []alertRecord {
	records := make([]alertRecord, len(alerts))
	for i, alert := range alerts {
		records[i] = alertRecord{Labels: alert.Labels, Annotations: alert.Annotations}
	}
	return records
}

func (r *Runner) getOwnerInfo(ctx context.Context, targetNamespace string) error {
	if r.peopleClient == nil {
		return fmt.Errorf("probe: people API client is not configured")
	}

	ns := r.adapter.GetNamespace(targetNamespace)
	if ns == nil {
		return fmt.Errorf("probe: namespace %q not found", targetNamespace)
	}
	if ns.Terminating {
		log.Info().Str("namespace", targetNamespace).Msg("namespace is terminating, skipping get-owner-info")
		return nil
	}

	gitlabHandle := ns.Labels[k8sapi.LabelAuthor]
	email := ns.Annotations[k8sapi.AnnotationAuthorMail]

	user, err := r.peopleClient.Lookup(gitlabHandle, email)
	if err != nil {
		return fmt.Errorf("probe: looking up owner for %q: %w", targetNamespace, err)
	}

	address := owneraddr.Encode(user.Name, user.SlackID)
	if err := r.adapter.PatchNamespace(targetNamespace, nil, map[string]string{
		k8sapi.AnnotationOwner: address,
	}); err != nil {
		return fmt.Errorf("probe: patching owner onto %q: %w", targetNamespace, err)
	}

	log.Info().Str("namespace", targetNamespace).Str("owner", user.Name).Msg("get-owner-info completed")
	return nil
}
