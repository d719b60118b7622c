// Package config loads the YAML configuration consumed by every binary in
// this repository into a single immutable value.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ska-telescope/ska-namespace-manager/internal/durationfmt"
	"github.com/ska-telescope/ska-namespace-manager/internal/nsmatch"
)

const defaultConfigPath = "/etc/config/config.yml"

// LeaderElection configures the file-based leader lock.
type LeaderElection struct {
	Enabled  bool          `mapstructure:"enabled"`
	Path     string        `mapstructure:"path"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

// StatusAction describes what happens when a namespace sits in a given
// status: optionally delete it, optionally notify its owner on deletion,
// optionally notify its owner whenever the status is (re-)entered.
type StatusAction struct {
	Delete         bool `mapstructure:"delete"`
	NotifyOnDelete bool `mapstructure:"notify_on_delete"`
	NotifyOnStatus bool `mapstructure:"notify_on_status"`
}

// StatusActions is the per-status action table, keyed by the four
// non-terminal-or-terminal statuses an operator can act on.
type StatusActions struct {
	Stale    StatusAction `mapstructure:"stale"`
	Failed   StatusAction `mapstructure:"failed"`
	Failing  StatusAction `mapstructure:"failing"`
	Unstable StatusAction `mapstructure:"unstable"`
}

// NamespacePolicy binds a matcher to the durations and actions that apply to
// namespaces it selects.
type NamespacePolicy struct {
	Names []string            `mapstructure:"names"`
	Any   []nsmatch.Condition `mapstructure:"any"`
	All   []nsmatch.Condition `mapstructure:"all"`

	TTL            time.Duration `mapstructure:"ttl"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	SettlingPeriod time.Duration `mapstructure:"settling_period"`

	Status  StatusActions       `mapstructure:"status"`
	Actions map[string]TaskSpec `mapstructure:"actions"`
}

// ActionSpec returns the configured TaskSpec for action, or the default
// when the policy has no override.
func (p NamespacePolicy) ActionSpec(action string) TaskSpec {
	if spec, ok := p.Actions[action]; ok {
		return spec
	}
	return DefaultTaskSpec()
}

// Matcher projects the policy's selection fields into an nsmatch.Matcher.
func (p NamespacePolicy) Matcher() nsmatch.Matcher {
	return nsmatch.Matcher{Names: p.Names, Any: p.Any, All: p.All}
}

// PeopleAPI configures the owner-lookup REST facade.
type PeopleAPI struct {
	URL      string `mapstructure:"url"`
	CA       string `mapstructure:"ca"`
	Insecure bool   `mapstructure:"insecure"`
}

// Notifier configures the Slack-backed owner notifier.
type Notifier struct {
	Token string `mapstructure:"token"`
}

// Metrics configures the Prometheus gauge registry and its optional
// restart-persistence file.
type Metrics struct {
	Enabled      bool   `mapstructure:"enabled"`
	RegistryPath string `mapstructure:"registry_path"`
}

// Prometheus configures the alternative failing-workload evidence source:
// a remote Prometheus's Alerts API.
type Prometheus struct {
	Enabled            bool          `mapstructure:"enabled"`
	URL                string        `mapstructure:"url"`
	CA                 string        `mapstructure:"ca"`
	Insecure          bool          `mapstructure:"insecure"`
	WhitelistedAlerts []string      `mapstructure:"whitelisted_alerts"`
	CronJobDelay      time.Duration `mapstructure:"cronjob_delay"`
}

// Probe configures the check-namespace probe action.
type Probe struct {
	IncludeDaemonSets bool `mapstructure:"include_daemonsets"`
}

// Log configures the process logger.
type Log struct {
	Level string `mapstructure:"level"`
}

// Context carries the controller's own identity, used to exclude its own
// namespace from adoption, and the image/service account the collect
// controller renders into each probe CronJob/Job it creates.
type Context struct {
	Namespace      string `mapstructure:"namespace"`
	Image          string `mapstructure:"image"`
	ServiceAccount string `mapstructure:"service_account"`
}

// TaskSpec mirrors the Kubernetes CronJob/Job knobs an operator may tune per
// probe action.
type TaskSpec struct {
	Schedule              string `mapstructure:"schedule"`
	SuccessfulJobsHistory int32  `mapstructure:"successful_jobs_history_limit"`
	FailedJobsHistory     int32  `mapstructure:"failed_jobs_history_limit"`
	ConcurrencyPolicy     string `mapstructure:"concurrency_policy"`
	ActiveDeadlineSeconds int64  `mapstructure:"active_deadline_seconds"`
	BackoffLimit          int32  `mapstructure:"backoff_limit"`
}

// DefaultTaskSpec is used for any probe action without an explicit entry in
// a policy's Actions map.
func DefaultTaskSpec() TaskSpec {
	return TaskSpec{
		Schedule:              "*/1 * * * *",
		SuccessfulJobsHistory: 1,
		ConcurrencyPolicy:     "Forbid",
	}
}

// Config is the fully decoded, immutable configuration tree. It is loaded
// once in main() and passed by value into each controller's constructor;
// there is no global accessor.
type Config struct {
	Context        Context           `mapstructure:"context"`
	LeaderElection LeaderElection    `mapstructure:"leader_election"`
	Namespaces     []NamespacePolicy `mapstructure:"namespaces"`
	PeopleAPI      PeopleAPI         `mapstructure:"people_api"`
	Notifier       Notifier          `mapstructure:"notifier"`
	Metrics        Metrics           `mapstructure:"metrics"`
	Prometheus     Prometheus        `mapstructure:"prometheus"`
	Probe          Probe             `mapstructure:"probe"`
	Log            Log               `mapstructure:"log"`
}

// Load reads and decodes the configuration file at path, or at CONFIG_PATH,
// or at the default location, in that order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("leader_election.enabled", true)
	v.SetDefault("leader_election.lease_ttl", "30s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("probe.include_daemonsets", false)
	v.SetDefault("log.level", "info")

	v.AutomaticEnv()
	v.BindEnv("log.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		return nil, fmt.Errorf("config: no config file at %s: %w", path, err)
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		durationStringToDurationHook,
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationStringToDurationHook parses composite duration strings
// ("5d3h28m5s") the way the rest of this repository expects, instead of
// mapstructure's stdlib-only time.ParseDuration hook.
func durationStringToDurationHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != durationType {
		return data, nil
	}
	s, ok := data.(string)
	if !ok || s == "" {
		return data, nil
	}
	return durationfmt.Parse(s)
}
