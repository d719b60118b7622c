// Command probe runs a single check-namespace or get-owner-info action
// against one namespace, invoked by a collect-controller-managed
// CronJob/Job. It exits 1 on any failure, including an unknown action or a
// namespace that has since vanished, so the owning Job/CronJob run is
// marked failed.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/ska-telescope/ska-namespace-manager/internal/config"
	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
	"github.com/ska-telescope/ska-namespace-manager/internal/peopleapi"
	"github.com/ska-telescope/ska-namespace-manager/internal/probe"
	"github.com/ska-telescope/ska-namespace-manager/internal/promalerts"
)

func main() {
	var configPath, kubeconfigPath, action, targetNamespace string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Runs a single probe action against one namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, kubeconfigPath, action, targetNamespace)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the controller's YAML config (defaults to CONFIG_PATH or /etc/config/config.yml)")
	cmd.Flags().StringVar(&kubeconfigPath, "kubeconfig", "", "path to a kubeconfig file (defaults to in-cluster config)")
	cmd.Flags().StringVar(&action, "action", "", fmt.Sprintf("probe action to run (%s or %s)", probe.CheckNamespace, probe.GetOwnerInfo))
	cmd.Flags().StringVar(&targetNamespace, "namespace", "", "namespace to probe")
	cmd.MarkFlagRequired("action")
	cmd.MarkFlagRequired("namespace")

	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("probe run failed")
	}
}

func run(configPath, kubeconfigPath, action, targetNamespace string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	configureLogging(cfg.Log.Level)

	adapter, err := k8sapi.New(kubeconfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build kubernetes client")
	}

	var promClient *promalerts.Client
	if cfg.Prometheus.Enabled {
		promClient, err = promalerts.New(cfg.Prometheus.URL, cfg.Prometheus.CA, cfg.Prometheus.Insecure)
		if err != nil {
			log.Error().Err(err).Msg("failed to build prometheus client, falling back to kubernetes API evidence")
			promClient = nil
		}
	}

	var peopleClient *peopleapi.Client
	if cfg.PeopleAPI.URL != "" {
		peopleClient, err = peopleapi.New(cfg.PeopleAPI.URL, cfg.PeopleAPI.CA, cfg.PeopleAPI.Insecure)
		if err != nil {
			log.Error().Err(err).Msg("failed to build people api client")
		}
	}

	runner := probe.New(adapter, promClient, peopleClient, *cfg)
	return runner.Run(context.Background(), action, targetNamespace)
}

func configureLogging(level string) {
	zerologAdapter := zerologr.New(&log.Logger)
	klog.SetLogger(zerologAdapter)

	zerolog.TimeFieldFormat = time.RFC3339
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
