// Package actioncontroller reads the status annotations the collect
// controller's probes write onto managed namespaces and acts on them:
// deleting namespaces that reached a terminal status, and notifying owners
// of namespaces that turned failing or unstable.
package actioncontroller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ska-telescope/ska-namespace-manager/internal/config"
	"github.com/ska-telescope/ska-namespace-manager/internal/durationfmt"
	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
	"github.com/ska-telescope/ska-namespace-manager/internal/notifier"
	"github.com/ska-telescope/ska-namespace-manager/internal/nsmatch"
)

// Controller owns the action-controller's periodic tasks.
type Controller struct {
	adapter  *k8sapi.Adapter
	notifier notifier.Notifier
	cfg      config.Config
	matchers []nsmatch.Matcher
}

// New builds a Controller.
func New(adapter *k8sapi.Adapter, n notifier.Notifier, cfg config.Config) *Controller {
	matchers := make([]nsmatch.Matcher, len(cfg.Namespaces))
	for i, ns := range cfg.Namespaces {
		matchers[i] = ns.Matcher()
	}

	return &Controller{adapter: adapter, notifier: n, cfg: cfg, matchers: matchers}
}

func toMatchNamespace(ns k8sapi.Namespace) nsmatch.Namespace {
	return nsmatch.Namespace{Name: ns.Name, Labels: ns.Labels, Annotations: ns.Annotations}
}

func (c *Controller) policyFor(ns k8sapi.Namespace) (config.NamespacePolicy, bool) {
	idx := nsmatch.Match(c.matchers, toMatchNamespace(ns))
	if idx < 0 {
		return config.NamespacePolicy{}, false
	}
	return c.cfg.Namespaces[idx], true
}

// statusAction returns the StatusActions entry governing status, or false
// if status isn't one the action controller acts on.
func statusAction(actions config.StatusActions, status k8sapi.Status) (config.StatusAction, bool) {
	switch status {
	case k8sapi.StatusStale:
		return actions.Stale, true
	case k8sapi.StatusFailed:
		return actions.Failed, true
	case k8sapi.StatusFailing:
		return actions.Failing, true
	case k8sapi.StatusUnstable:
		return actions.Unstable, true
	default:
		return config.StatusAction{}, false
	}
}

// DeleteNamespacesWithStatus deletes every managed, non-terminating
// namespace currently at status whose policy has delete enabled for that
// status, then notifying the owner when notify_on_delete is also set.
func (c *Controller) DeleteNamespacesWithStatus(ctx context.Context, status k8sapi.Status) error {
	candidates := c.adapter.ListNamespaces(k8sapi.Filter{
		Annotations: map[string]string{
			k8sapi.AnnotationManaged: "true",
			k8sapi.AnnotationStatus:  string(status),
		},
	})

	for _, ns := range candidates {
		if k8sapi.DenyList[ns.Name] || ns.Terminating {
			continue
		}

		policy, ok := c.policyFor(ns)
		if !ok {
			continue
		}

		action, ok := statusAction(policy.Status, status)
		if !ok || !action.Delete {
			log.Debug().Str("namespace", ns.Name).Str("status", string(status)).Msg("namespace won't be deleted")
			continue
		}

		log.Info().Str("namespace", ns.Name).Str("status", string(status)).Msg("deleting namespace")
		if err := c.adapter.DeleteNamespace(ns.Name, 0); err != nil {
			log.Error().Err(err).Str("namespace", ns.Name).Msg("failed to delete namespace")
			continue
		}

		if !action.NotifyOnDelete {
			continue
		}
		c.notifyOwner(ctx, ns, "delete", status, nil)
	}

	return nil
}

// DeleteStaleNamespaces deletes namespaces whose status is stale.
func (c *Controller) DeleteStaleNamespaces(ctx context.Context) error {
	return c.DeleteNamespacesWithStatus(ctx, k8sapi.StatusStale)
}

// DeleteFailedNamespaces deletes namespaces whose status is failed.
func (c *Controller) DeleteFailedNamespaces(ctx context.Context) error {
	return c.DeleteNamespacesWithStatus(ctx, k8sapi.StatusFailed)
}

// NotifyFailingUnstableNamespaces notifies the owner of every managed
// namespace currently failing or unstable that has not yet been notified
// for the current status episode.
func (c *Controller) NotifyFailingUnstableNamespaces(ctx context.Context) error {
	candidates := c.adapter.ListNamespaces(k8sapi.Filter{
		Annotations: map[string]string{
			k8sapi.AnnotationManaged: "true",
			k8sapi.AnnotationStatus:  "(failing|unstable)",
			k8sapi.AnnotationOwner:   ".+",
		},
		ExcludeAnnotations: map[string]string{
			k8sapi.AnnotationNotifiedTimestamp: ".+",
		},
	})

	for _, ns := range candidates {
		if k8sapi.DenyList[ns.Name] || ns.Terminating {
			continue
		}

		policy, ok := c.policyFor(ns)
		if !ok {
			continue
		}

		status := k8sapi.Status(ns.Annotations[k8sapi.AnnotationStatus])
		action, ok := statusAction(policy.Status, status)
		if !ok || !action.NotifyOnStatus {
			continue
		}

		fields := map[string]string{
			"alerts": formatFailingResources(ns.Annotations[k8sapi.AnnotationFailingResources]),
		}
		sent := c.notifyOwner(ctx, ns, "status", status, fields)
		if !sent {
			continue
		}

		if err := c.adapter.PatchNamespace(ns.Name, nil, map[string]string{
			k8sapi.AnnotationNotifiedTimestamp: durationfmt.FormatUTC(durationfmt.Now()),
			k8sapi.AnnotationNotifiedStatus:    string(status),
		}); err != nil {
			log.Error().Err(err).Str("namespace", ns.Name).Msg("failed to record notification")
		}
	}

	return nil
}

func (c *Controller) notifyOwner(ctx context.Context, ns k8sapi.Namespace, templateName string, status k8sapi.Status, extra map[string]string) bool {
	fields := map[string]string{
		"namespace":          ns.Name,
		"status_timeframe":   ns.Annotations[k8sapi.AnnotationStatusTimeframe],
		"status_finalize_at": ns.Annotations[k8sapi.AnnotationStatusFinalizeAt],
	}
	for k, v := range extra {
		fields[k] = v
	}

	sent, err := c.notifier.Notify(ctx, ns.Annotations[k8sapi.AnnotationOwner], templateName, string(status), fields)
	if err != nil {
		log.Error().Err(err).Str("namespace", ns.Name).Msg("failed to notify owner")
		return false
	}
	return sent
}

// alertEntry is the processed, deduplicated-by-alertname shape the
// notification template iterates over.
type alertEntry struct {
	FailingResources string
	RunbookURL       string
}

// formatFailingResources decodes the JSON array of raw alerts stashed on
// the failing_resources annotation and renders it as a single human
// readable string grouped by alert name.
func formatFailingResources(raw string) string {
	if raw == "" {
		return ""
	}

	var alerts []struct {
		Labels      map[string]string `json:"labels"`
		Annotations map[string]string `json:"annotations"`
	}
	if err := json.Unmarshal([]byte(raw), &alerts); err != nil {
		return ""
	}

	order := make([]string, 0, len(alerts))
	grouped := make(map[string]*alertEntry)
	for _, alert := range alerts {
		name := alert.Labels["alertname"]
		entry, ok := grouped[name]
		if !ok {
			entry = &alertEntry{}
			grouped[name] = entry
			order = append(order, name)
		}

		if resources := formatLabelResources(alert.Labels); resources != "" {
			if entry.FailingResources != "" {
				entry.FailingResources += "; "
			}
			entry.FailingResources += resources
		}
		if runbook := alert.Annotations["runbook_url"]; runbook != "" {
			entry.RunbookURL = runbook
		}
	}

	lines := make([]string, 0, len(order))
	for _, name := range order {
		entry := grouped[name]
		line := name
		if entry.FailingResources != "" {
			line = fmt.Sprintf("%s (%s)", name, entry.FailingResources)
		}
		if entry.RunbookURL != "" {
			line += " " + entry.RunbookURL
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

var resourceLabelOrder = []string{"pod", "deployment", "statefulset", "job", "daemonset", "container", "persistentvolumeclaim"}

func formatLabelResources(labelSet map[string]string) string {
	var parts []string
	for _, label := range resourceLabelOrder {
		if v := labelSet[label]; v != "" {
			parts = append(parts, label+"="+v)
		}
	}
	return strings.Join(parts, ", ")
}
