// Command collect-controller adopts new namespaces, materializes their
// probe CronJobs/Jobs, keeps them reconciled against policy, and publishes
// the per-namespace status gauge.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/ska-telescope/ska-namespace-manager/internal/collectcontroller"
	"github.com/ska-telescope/ska-namespace-manager/internal/config"
	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
	"github.com/ska-telescope/ska-namespace-manager/internal/leaderlock"
	"github.com/ska-telescope/ska-namespace-manager/internal/metrics"
	"github.com/ska-telescope/ska-namespace-manager/internal/scheduler"
)

const (
	adoptPeriod   = 1 * time.Second
	syncPeriod    = 10 * time.Second
	metricsPeriod = 5 * time.Second
)

func main() {
	var configPath, kubeconfigPath string

	cmd := &cobra.Command{
		Use:   "collect-controller",
		Short: "Adopts and reconciles managed namespaces' probe workloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, kubeconfigPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the controller's YAML config (defaults to CONFIG_PATH or /etc/config/config.yml)")
	cmd.Flags().StringVar(&kubeconfigPath, "kubeconfig", "", "path to a kubeconfig file (defaults to in-cluster config)")

	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("collect-controller exited with an error")
	}
}

func run(configPath, kubeconfigPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("collect-controller: %w", err)
	}

	configureLogging(cfg.Log.Level)

	adapter, err := k8sapi.New(kubeconfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build kubernetes client")
	}

	var metricsRegistry *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsRegistry = metrics.New()
		if err := metricsRegistry.Load(cfg.Metrics.RegistryPath); err != nil {
			log.Error().Err(err).Msg("failed to load persisted metrics registry")
		}
	}

	controller := collectcontroller.New(adapter, *cfg, metricsRegistry)

	sched, ctx := scheduler.New()

	isLeader := func() bool { return true }
	var lock *leaderlock.Lock
	if cfg.LeaderElection.Enabled {
		lock = leaderlock.New(cfg.LeaderElection.Path, cfg.LeaderElection.Path+".lease", cfg.LeaderElection.LeaseTTL)
		isLeader = lock.IsLeader

		sched.Register(scheduler.Task{
			Name:   "leader-election",
			Period: scheduler.HalfTTL(cfg.LeaderElection.LeaseTTL),
			Body: func(ctx context.Context) error {
				return lock.AcquireLease()
			},
		})
	}

	sched.Register(scheduler.Task{
		Name:   "adopt-namespaces",
		Period: scheduler.Every(adoptPeriod),
		Body:   controller.AdoptNamespaces,
	})
	sched.Register(scheduler.Task{
		Name:      "synchronize-cronjobs",
		Period:    scheduler.Every(syncPeriod),
		Predicate: isLeader,
		Body:      controller.SynchronizeCronJobs,
	})
	sched.Register(scheduler.Task{
		Name:      "synchronize-jobs",
		Period:    scheduler.Every(syncPeriod),
		Predicate: isLeader,
		Body:      controller.SynchronizeJobs,
	})
	if cfg.Metrics.Enabled {
		sched.Register(scheduler.Task{
			Name:      "generate-metrics",
			Period:    scheduler.Every(metricsPeriod),
			Predicate: isLeader,
			Body:      controller.GenerateMetrics,
		})
	}

	log.Info().Msg("collect-controller started")
	sched.Run(ctx)

	if lock != nil {
		if err := lock.Release(); err != nil {
			log.Error().Err(err).Msg("failed to release leader lock on shutdown")
		}
	}
	return nil
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

	if os.Getenv("LOG_FORMAT") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
