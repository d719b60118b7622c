// Package metrics exposes namespace status as a Prometheus gauge, with
// optional text-format persistence across restarts.
package metrics

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog/log"

	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
)

const metricName = "namespace_manager_ns_count"

var labelNames = []string{"team", "project", "user", "environment", "pipelineId", "projectId", "namespace"}

// Labels identifies the namespace a status sample belongs to.
type Labels struct {
	Team        string
	Project     string
	User        string
	Environment string
	PipelineID  string
	ProjectID   string
	Namespace   string
}

func (l Labels) values() prometheus.Labels {
	return prometheus.Labels{
		"team":        l.Team,
		"project":     l.Project,
		"user":        l.User,
		"environment": l.Environment,
		"pipelineId":  l.PipelineID,
		"projectId":   l.ProjectID,
		"namespace":   l.Namespace,
	}
}

// Registry wraps the namespace status gauge and its own Prometheus registry,
// so a process can expose it independently of any global default registry.
type Registry struct {
	registry *prometheus.Registry
	gauge    *prometheus.GaugeVec
}

// New builds a Registry with the namespace status gauge registered.
func New() *Registry {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricName,
		Help: "Status code of a managed namespace (0=ok 1=stale 2=failing 3=failed 4=unstable 5=unknown).",
	}, labelNames)

	reg := prometheus.NewRegistry()
	reg.MustRegister(gauge)

	return &Registry{registry: reg, gauge: gauge}
}

// Set records the current status of a namespace.
func (r *Registry) Set(labels Labels, status k8sapi.Status) {
	r.gauge.With(labels.values()).Set(status.MetricCode())
}

// Delete removes a namespace's series, used once it's reclaimed.
func (r *Registry) Delete(labels Labels) {
	r.gauge.Delete(labels.values())
}

// Save writes the registry's current state to path in Prometheus text
// format, so it can be reloaded across a restart. A no-op when path is
// empty.
func (r *Registry) Save(path string) error {
	if path == "" {
		return nil
	}

	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gathering for save: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("metrics: creating %s: %w", path, err)
	}
	defer f.Close()

	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(f, family); err != nil {
			return fmt.Errorf("metrics: encoding %s: %w", path, err)
		}
	}

	return nil
}

// Load repopulates the gauge from a file previously written by Save. A
// missing file is not an error: metrics simply start empty.
func (r *Registry) Load(path string) error {
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("metrics: opening %s: %w", path, err)
	}
	defer f.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("metrics: parsing %s: %w", path, err)
	}

	family, ok := families[metricName]
	if !ok {
		return nil
	}

	for _, m := range family.GetMetric() {
		labels := prometheus.Labels{}
		for _, pair := range m.GetLabel() {
			labels[pair.GetName()] = pair.GetValue()
		}
		gauge, err := r.gauge.GetMetricWith(labels)
		if err != nil {
			log.Error().Err(err).Msg("metrics: skipping malformed persisted series")
			continue
		}
		gauge.Set(m.GetGauge().GetValue())
	}

	return nil
}
