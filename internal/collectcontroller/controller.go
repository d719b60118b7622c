// Package collectcontroller adopts unmanaged namespaces, materializes their
// probe CronJobs/Jobs, keeps them reconciled, and publishes status metrics.
package collectcontroller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	batchv1 "k8s.io/api/batch/v1"

	"github.com/ska-telescope/ska-namespace-manager/internal/config"
	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
	"github.com/ska-telescope/ska-namespace-manager/internal/metrics"
	"github.com/ska-telescope/ska-namespace-manager/internal/nsmatch"
)

// cronJobActions and jobActions are the closed, fully-specified set of probe
// actions the collect controller schedules; there is no plugin mechanism to
// extend them.
var cronJobActions = []string{actionCheckNamespace}
var jobActions = []string{actionGetOwnerInfo}

// Controller owns the collect-controller's periodic tasks.
type Controller struct {
	adapter  *k8sapi.Adapter
	cfg      config.Config
	metrics  *metrics.Registry
	matchers []nsmatch.Matcher

	// metricsLabels is the label set published on the previous
	// GenerateMetrics tick, read and written only from that task's own
	// goroutine, so no locking is needed.
	metricsLabels map[string]metrics.Labels
}

// New builds a Controller. metricsRegistry may be nil when cfg.Metrics.Enabled
// is false.
func New(adapter *k8sapi.Adapter, cfg config.Config, metricsRegistry *metrics.Registry) *Controller {
	matchers := make([]nsmatch.Matcher, len(cfg.Namespaces))
	for i, ns := range cfg.Namespaces {
		matchers[i] = ns.Matcher()
	}

	return &Controller{
		adapter:       adapter,
		cfg:           cfg,
		metrics:       metricsRegistry,
		matchers:      matchers,
		metricsLabels: make(map[string]metrics.Labels),
	}
}

func toMatchNamespace(ns k8sapi.Namespace) nsmatch.Namespace {
	return nsmatch.Namespace{Name: ns.Name, Labels: ns.Labels, Annotations: ns.Annotations}
}

// policyFor returns the namespace policy governing ns, or false if none
// matches.
func (c *Controller) policyFor(ns k8sapi.Namespace) (config.NamespacePolicy, bool) {
	idx := nsmatch.Match(c.matchers, toMatchNamespace(ns))
	if idx < 0 {
		return config.NamespacePolicy{}, false
	}
	return c.cfg.Namespaces[idx], true
}

// AdoptNamespaces lists namespaces lacking the managed annotation, matches
// each against the configured policies, and for every match materializes
// its probe CronJobs/Jobs before marking it managed.
func (c *Controller) AdoptNamespaces(ctx context.Context) error {
	candidates := c.adapter.ListNamespaces(k8sapi.Filter{
		ExcludeAnnotations: map[string]string{k8sapi.AnnotationManaged: "true"},
	})

	for _, ns := range candidates {
		if k8sapi.DenyList[ns.Name] || ns.Name == c.cfg.Context.Namespace || ns.Terminating {
			continue
		}

		policy, ok := c.policyFor(ns)
		if !ok {
			log.Warn().Str("namespace", ns.Name).Msg("no matching policy, leaving namespace unmanaged")
			continue
		}

		log.Info().Str("namespace", ns.Name).Msg("adopting new namespace")

		for _, action := range cronJobActions {
			if err := c.createCronJob(action, ns.Name, policy); err != nil {
				log.Error().Err(err).Str("namespace", ns.Name).Str("action", action).Msg("failed to create probe cronjob")
			}
		}
		for _, action := range jobActions {
			if err := c.createJob(action, ns.Name, policy); err != nil {
				log.Error().Err(err).Str("namespace", ns.Name).Str("action", action).Msg("failed to create probe job")
			}
		}

		if err := c.adapter.PatchNamespace(ns.Name, nil, map[string]string{
			k8sapi.AnnotationManaged:   "true",
			k8sapi.AnnotationStatus:    string(k8sapi.StatusUnknown),
			k8sapi.AnnotationNamespace: ns.Name,
		}); err != nil {
			log.Error().Err(err).Str("namespace", ns.Name).Msg("failed to mark namespace managed")
		}
	}

	return nil
}

func (c *Controller) createCronJob(action, targetNamespace string, policy config.NamespacePolicy) error {
	existing := c.adapter.ListCronJobsBy(k8sapi.Filter{Annotations: map[string]string{
		k8sapi.AnnotationNamespace: targetNamespace,
		k8sapi.AnnotationAction:    action,
	}})

	cronJob, err := buildCronJob(c.cfg.Context, action, targetNamespace, policy.ActionSpec(action))
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		cronJob.Name = existing[0].Name
		cronJob.ResourceVersion = existing[0].ResourceVersion
		return c.adapter.PatchCronJob(cronJob)
	}

	if c.cfg.Prometheus.Enabled && c.cfg.Prometheus.CronJobDelay > 0 {
		// Give Prometheus one scrape interval to pick up the namespace
		// before its first probe run evaluates alerts against it.
		time.Sleep(c.cfg.Prometheus.CronJobDelay)
	}
	return c.adapter.CreateCronJob(cronJob)
}

func (c *Controller) createJob(action, targetNamespace string, policy config.NamespacePolicy) error {
	existing := c.adapter.ListJobsBy(k8sapi.Filter{Annotations: map[string]string{
		k8sapi.AnnotationNamespace: targetNamespace,
		k8sapi.AnnotationAction:    action,
	}})

	job := buildJob(c.cfg.Context, action, targetNamespace, policy.ActionSpec(action))

	if len(existing) > 0 {
		return c.reconcileJob(&existing[0], job)
	}
	return c.adapter.CreateJob(job)
}

// reconcileJob recreates current if its spec hash changed from desired,
// since a Job's pod template is immutable once created; otherwise it's left
// untouched.
func (c *Controller) reconcileJob(current *batchv1.Job, desired *batchv1.Job) error {
	if current.Annotations[k8sapi.AnnotationSpecHash] == desired.Annotations[k8sapi.AnnotationSpecHash] {
		return nil
	}

	if err := c.adapter.DeleteJob(current.Namespace, current.Name, true); err != nil {
		return fmt.Errorf("collectcontroller: deleting stale job %s/%s: %w", current.Namespace, current.Name, err)
	}
	return c.adapter.CreateJob(desired)
}

// SynchronizeCronJobs deletes CronJobs whose target namespace has vanished,
// and patches the rest so changed policy settles onto the live object.
func (c *Controller) SynchronizeCronJobs(ctx context.Context) error {
	for _, action := range cronJobActions {
		cronJobs := c.adapter.ListCronJobsBy(k8sapi.Filter{Annotations: map[string]string{
			k8sapi.AnnotationAction: action,
		}})

		for i := range cronJobs {
			cj := &cronJobs[i]
			targetNamespace := cj.Annotations[k8sapi.AnnotationNamespace]

			ns := c.adapter.GetNamespace(targetNamespace)
			if ns == nil {
				if err := c.adapter.DeleteCronJob(cj.Namespace, cj.Name); err != nil {
					log.Error().Err(err).Str("cronjob", cj.Name).Msg("failed to delete orphaned cronjob")
				}
				continue
			}

			policy, ok := c.policyFor(*ns)
			if !ok {
				continue
			}

			desired, err := buildCronJob(c.cfg.Context, action, targetNamespace, policy.ActionSpec(action))
			if err != nil {
				log.Error().Err(err).Str("namespace", targetNamespace).Msg("failed to render cronjob during sync")
				continue
			}
			if cj.Annotations[k8sapi.AnnotationSpecHash] == desired.Annotations[k8sapi.AnnotationSpecHash] {
				continue
			}

			desired.Name = cj.Name
			desired.ResourceVersion = cj.ResourceVersion
			if err := c.adapter.PatchCronJob(desired); err != nil {
				log.Error().Err(err).Str("cronjob", cj.Name).Msg("failed to patch cronjob during sync")
			}
		}
	}

	return nil
}

// SynchronizeJobs deletes Jobs (and their pods) whose target namespace has
// vanished, and recreates any whose rendered spec changed.
func (c *Controller) SynchronizeJobs(ctx context.Context) error {
	for _, action := range jobActions {
		jobs := c.adapter.ListJobsBy(k8sapi.Filter{Annotations: map[string]string{
			k8sapi.AnnotationAction: action,
		}})

		for i := range jobs {
			job := &jobs[i]
			targetNamespace := job.Annotations[k8sapi.AnnotationNamespace]

			ns := c.adapter.GetNamespace(targetNamespace)
			if ns == nil {
				if err := c.adapter.DeleteJob(job.Namespace, job.Name, false); err != nil {
					log.Error().Err(err).Str("job", job.Name).Msg("failed to delete orphaned job")
					continue
				}
				for _, pod := range c.adapter.ListPods(job.Namespace, "job-name="+job.Name) {
					if err := c.adapter.DeletePod(job.Namespace, pod.Name); err != nil {
						log.Error().Err(err).Str("pod", pod.Name).Msg("failed to delete orphaned job's pod")
					}
				}
				continue
			}

			policy, ok := c.policyFor(*ns)
			if !ok {
				continue
			}

			desired := buildJob(c.cfg.Context, action, targetNamespace, policy.ActionSpec(action))
			if err := c.reconcileJob(job, desired); err != nil {
				log.Error().Err(err).Str("job", job.Name).Msg("failed to reconcile job during sync")
			}
		}
	}

	return nil
}

// GenerateMetrics publishes the current status of every managed namespace
// and drops series for namespaces no longer managed.
func (c *Controller) GenerateMetrics(ctx context.Context) error {
	if c.metrics == nil {
		return nil
	}

	managed := c.adapter.ListNamespaces(k8sapi.Filter{
		Annotations: map[string]string{k8sapi.AnnotationManaged: "true"},
	})

	current := make(map[string]metrics.Labels, len(managed))
	for _, ns := range managed {
		if k8sapi.DenyList[ns.Name] {
			continue
		}
		status := k8sapi.Status(ns.Annotations[k8sapi.AnnotationStatus])
		labels := metrics.Labels{
			Team:        ns.Labels["cicd.skao.int/team"],
			Project:     ns.Labels["cicd.skao.int/project"],
			User:        ns.Labels[k8sapi.LabelAuthor],
			Environment: ns.Labels["cicd.skao.int/environment"],
			PipelineID:  ns.Labels["cicd.skao.int/pipelineId"],
			ProjectID:   ns.Labels["cicd.skao.int/projectId"],
			Namespace:   ns.Name,
		}
		c.metrics.Set(labels, status)
		current[ns.Name] = labels
	}

	for name, labels := range c.metricsLabels {
		if _, ok := current[name]; !ok {
			c.metrics.Delete(labels)
		}
	}
	c.metricsLabels = current

	if err := c.metrics.Save(c.cfg.Metrics.RegistryPath); err != nil {
		log.Error().Err(err).Msg("failed to persist metrics registry")
	}

	return nil
}
