// Package promalerts fetches active alerts from a Prometheus server, used
// as an alternative failing-workload evidence source for the probe.
package promalerts

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
)

const requestTimeout = 15 * time.Second

// Alert is the subset of a Prometheus alert this repository cares about.
type Alert struct {
	Namespace   string
	Severity    string
	AlertName   string
	Labels      map[string]string
	Annotations map[string]string
}

// Client wraps a Prometheus API client scoped to the Alerts endpoint.
type Client struct {
	api v1.API
}

// New builds a Client against a Prometheus server at addr.
func New(addr, ca string, insecure bool) (*Client, error) {
	roundTripper := api.DefaultRoundTripper
	if insecure {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		roundTripper = transport
	}

	client, err := api.NewClient(api.Config{
		Address:      addr,
		RoundTripper: roundTripper,
	})
	if err != nil {
		return nil, fmt.Errorf("promalerts: creating prometheus client: %w", err)
	}

	return &Client{api: v1.NewAPI(client)}, nil
}

// FailingAlerts returns the active, non-whitelisted critical alerts for
// namespace.
func (c *Client) FailingAlerts(ctx context.Context, namespace string, whitelist map[string]bool) ([]Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result, err := c.api.Alerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("promalerts: fetching alerts: %w", err)
	}

	var matching []Alert
	for _, alert := range result.Alerts {
		ns := string(alert.Labels["namespace"])
		severity := string(alert.Labels["severity"])
		alertName := string(alert.Labels["alertname"])

		if ns != namespace {
			continue
		}
		if severity != "critical" {
			continue
		}
		if whitelist[alertName] {
			continue
		}

		labels := make(map[string]string, len(alert.Labels))
		for k, v := range alert.Labels {
			labels[string(k)] = string(v)
		}
		annotations := make(map[string]string, len(alert.Annotations))
		for k, v := range alert.Annotations {
			annotations[string(k)] = string(v)
		}

		matching = append(matching, Alert{
			Namespace:   ns,
			Severity:    severity,
			AlertName:   alertName,
			Labels:      labels,
			Annotations: annotations,
		})
	}

	return matching, nil
}
