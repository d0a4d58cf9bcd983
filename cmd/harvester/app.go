package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/harvester/internal/config"
	"github.com/nao1215/harvester/internal/database"
	"github.com/nao1215/harvester/internal/fetch"
	harvestlog "github.com/nao1215/harvester/internal/log"
	"github.com/nao1215/harvester/internal/model"
	"github.com/nao1215/harvester/internal/report"
	"github.com/nao1215/harvester/internal/retry"
	"github.com/nao1215/harvester/internal/runner"
	"github.com/nao1215/harvester/internal/throttle"
	"github.com/nao1215/harvester/internal/tor"
)

// historyLimit is the number of past runs shown by info.
const historyLimit = 10

// app holds what every job command needs after configuration: the logger,
// the run history database and the network route.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	db     *database.DB
	tor    *tor.EmbeddedTor
}

// newApp validates cfg and prepares logging, the database and the proxy.
// The caller must Close the returned app.
func newApp(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	logger := harvestlog.New(cmd.ErrOrStderr(), cfg.LogFormat, cfg.Verbose)
	slog.SetDefault(logger)

	// The run history always lives in SQLite, whatever the backend.
	db, err := database.Open(cfg.StateDir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, out: cmd.OutOrStdout(), db: db}
	if err := a.prepareRoute(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// prepareRoute starts the embedded Tor daemon when asked and verifies the
// proxy before any work begins.
func (a *app) prepareRoute(ctx context.Context) error {
	if a.cfg.EmbeddedTor {
		a.logger.Info("starting embedded Tor daemon, this may take 1-3 minutes")
		e := tor.NewEmbeddedTor(tor.WithStartupTimeout(a.cfg.TorStartupTimeout))
		if err := e.Start(ctx); err != nil {
			return fmt.Errorf("failed to start embedded Tor: %w", err)
		}
		a.tor = e

		proxyURL, err := e.ProxyURL()
		if err != nil {
			return err
		}
		a.cfg.Proxy = proxyURL
		a.logger.Info("embedded Tor daemon started", "proxy", proxyURL)
	}

	if a.cfg.Proxy == "" {
		return nil
	}
	if status := tor.CheckProxy(ctx, a.cfg.Proxy); status != tor.ProxyStatusOK {
		return fmt.Errorf("proxy check failed: %w (make sure the proxy is running at %s)", status.Error(), a.cfg.Proxy)
	}
	a.logger.Info("proxy connection verified", "proxy", a.cfg.Proxy)
	return nil
}

// httpOptions returns the client options shared by every fetcher.
func (a *app) httpOptions() fetch.ClientOptions {
	return fetch.ClientOptions{
		Timeout:   a.cfg.Timeout,
		UserAgent: a.cfg.UserAgent,
		Proxy:     a.cfg.Proxy,
		Headers:   a.cfg.Headers,
	}
}

// controllerOptions returns the RunController options common to all jobs.
func (a *app) controllerOptions(key string) []runner.Option {
	return []runner.Option{
		runner.WithJob(a.cfg.Job, key),
		runner.WithThrottle(throttle.New(throttle.WithRange(a.cfg.DelayLow, a.cfg.DelayHigh))),
		runner.WithWorkers(a.cfg.Workers),
		runner.WithMaxConsecutiveFailures(a.cfg.MaxConsecutiveFailures),
		runner.WithRetryOptions(
			retry.WithMaxRetries(a.cfg.MaxRetries),
			retry.WithBaseDelay(a.cfg.RetryBaseDelay),
		),
		runner.WithLogger(a.logger),
	}
}

// finish records and reports a run. The run error is returned unchanged.
func (a *app) finish(ctx context.Context, sum *model.RunSummary, runErr error) error {
	if sum == nil {
		return runErr
	}

	if err := a.db.SaveRun(context.WithoutCancel(ctx), sum); err != nil {
		a.logger.Error("failed to save run history", "run_id", sum.RunID, "error", err)
	}

	w, err := report.New(a.cfg.ReportFormat, a.out)
	if err != nil {
		return errors.Join(runErr, err)
	}
	if _, err := w.Write(sum); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to write report: %w", err))
	}
	return runErr
}

// Close stops the embedded Tor daemon and closes the database.
func (a *app) Close() {
	if a.tor != nil {
		a.logger.Info("stopping embedded Tor daemon")
		if err := a.tor.Stop(); err != nil {
			a.logger.Error("failed to stop embedded Tor", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// interrupted reports whether err only says the run was cancelled.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
