// Command action-controller reads the status annotations the probes write
// and acts on them: deleting namespaces that reached a terminal status, and
// notifying owners of namespaces that turned failing or unstable.
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

	"github.com/ska-telescope/ska-namespace-manager/internal/actioncontroller"
	"github.com/ska-telescope/ska-namespace-manager/internal/config"
	"github.com/ska-telescope/ska-namespace-manager/internal/k8sapi"
	"github.com/ska-telescope/ska-namespace-manager/internal/leaderlock"
	"github.com/ska-telescope/ska-namespace-manager/internal/notifier"
	"github.com/ska-telescope/ska-namespace-manager/internal/scheduler"
)

const (
	deletePeriod = 1 * time.Second
	notifyPeriod = 1 * time.Second
)

func main() {
	var configPath, kubeconfigPath string

	cmd := &cobra.Command{
		Use:   "action-controller",
		Short: "Deletes terminal-status namespaces and notifies owners of unhealthy ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, kubeconfigPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the controller's YAML config (defaults to CONFIG_PATH or /etc/config/config.yml)")
	cmd.Flags().StringVar(&kubeconfigPath, "kubeconfig", "", "path to a kubeconfig file (defaults to in-cluster config)")

	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("action-controller exited with an error")
	}
}

func run(configPath, kubeconfigPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("action-controller: %w", err)
	}

	configureLogging(cfg.Log.Level)

	adapter, err := k8sapi.New(kubeconfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build kubernetes client")
	}

	n := notifier.New(cfg.Notifier.Token)
	controller := actioncontroller.New(adapter, n, *cfg)

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
		Name:      "delete-stale-namespaces",
		Period:    scheduler.Every(deletePeriod),
		Predicate: isLeader,
		Body:      controller.DeleteStaleNamespaces,
	})
	sched.Register(scheduler.Task{
		Name:      "delete-failed-namespaces",
		Period:    scheduler.Every(deletePeriod),
		Predicate: isLeader,
		Body:      controller.DeleteFailedNamespaces,
	})
	sched.Register(scheduler.Task{
		Name:      "notify-failing-unstable-namespaces",
		Period:    scheduler.Every(notifyPeriod),
		Predicate: isLeader,
		Body:      controller.NotifyFailingUnstableNamespaces,
	})

	log.Info().Msg("action-controller started")
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
