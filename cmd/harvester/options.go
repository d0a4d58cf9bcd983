package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/harvester/internal/config"
)

// addRunFlags registers the flags every job command shares.
func addRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	flags.IntP("workers", "w", cfg.Workers, "Number of concurrent workers")
	flags.Bool("reset", false, "Discard the stored progress of this run before starting")
	flags.StringP("out", "o", cfg.OutDir, "Output directory for results")
	flags.DurationP("timeout", "t", cfg.Timeout, "Timeout for each request")
	flags.Int("max-retries", cfg.MaxRetries, "Fetch attempts per item")
	flags.Duration("retry-delay", cfg.RetryBaseDelay, "Backoff base between attempts")
	flags.Duration("delay-low", cfg.DelayLow, "Lower bound of the random wait between items")
	flags.Duration("delay-high", cfg.DelayHigh, "Upper bound of the random wait between items")
	flags.Int("max-failures", cfg.MaxConsecutiveFailures,
		"Stop after this many consecutive items exhausted their retries (0 disables)")
	flags.String("user-agent", "", "Override the User-Agent header")
}

// binding maps flag names to the Config fields they set.
type binding func(cfg *config.Config) map[string]any

// globalBindings maps the persistent flags to Config fields.
func globalBindings(cfg *config.Config) map[string]any {
	return map[string]any{
		"verbose":      &cfg.Verbose,
		"backend":      &cfg.Backend,
		"state-dir":    &cfg.StateDir,
		"proxy":        &cfg.Proxy,
		"embedded-tor": &cfg.EmbeddedTor,
		"tor-timeout":  &cfg.TorStartupTimeout,
		"report":       &cfg.ReportFormat,
		"log-format":   &cfg.LogFormat,
	}
}

// runBindings maps the flags of addRunFlags to Config fields.
func runBindings(cfg *config.Config) map[string]any {
	return map[string]any{
		"workers":      &cfg.Workers,
		"reset":        &cfg.Reset,
		"out":          &cfg.OutDir,
		"timeout":      &cfg.Timeout,
		"max-retries":  &cfg.MaxRetries,
		"retry-delay":  &cfg.RetryBaseDelay,
		"delay-low":    &cfg.DelayLow,
		"delay-high":   &cfg.DelayHigh,
		"max-failures": &cfg.MaxConsecutiveFailures,
		"user-agent":   &cfg.UserAgent,
	}
}

// loadConfig builds the Config of job. Sources apply in order: defaults,
// the config file section of job, the environment, then the flags that were
// set on the command line.
func loadConfig(cmd *cobra.Command, job string, bindings ...binding) (*config.Config, error) {
	cfg := config.NewConfig(job)

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg.ConfigFilePath = path

	// An explicit --config must exist; a searched one is optional.
	if found := config.FindConfigFile(path); found != "" {
		f, err := config.LoadConfigFile(found)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", found, err)
		}
		cfg.Apply(f.Section(job))
	} else if path != "" {
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, path)
	}

	cfg.ApplyEnv(os.Getenv)

	for _, b := range append([]binding{globalBindings}, bindings...) {
		if err := bindFlags(cmd, b(cfg)); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// bindFlags copies the value of every changed flag in bindings to its
// destination.
func bindFlags(cmd *cobra.Command, bindings map[string]any) error {
	flags := cmd.Flags()
	for name, dst := range bindings {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}

		var err error
		switch p := dst.(type) {
		case *string:
			*p, err = flags.GetString(name)
		case *int:
			*p, err = flags.GetInt(name)
		case *bool:
			*p, err = flags.GetBool(name)
		case *time.Duration:
			*p, err = flags.GetDuration(name)
		default:
			err = fmt.Errorf("unsupported destination %T for --%s", dst, name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
