package cmd

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/deploy/pkg/config"
	"github.com/sidkik/deploy/pkg/errors"
	"github.com/sidkik/deploy/pkg/fswatch"
	"github.com/sidkik/deploy/pkg/sync"
	"github.com/sidkik/deploy/pkg/transport"
)

// Mocked out for unit testing.
var (
	sftpTransport transport.Transport = transport.SFTP{}
	watchTree                         = fswatch.Watch
	clock                             = clockwork.NewRealClock()
)

type runOptions struct {
	configPath         string
	captureFingerprint bool
	force              bool
	watch              bool
	dryRun             bool
}

// run deploys the local directory once, and then again after every change
// if watching.
func run(ctx context.Context, opts runOptions, logger *log.Logger) error {
	store, err := config.LoadStore(opts.configPath)
	if err != nil {
		if _, ok := errors.RootCause(err).(errors.FileNotFound); ok {
			return errors.NewFriendlyError("The configuration file %q doesn't "+
				"exist.\nRun `deploy config init` to create it, or set its "+
				"path with --config.", opts.configPath)
		}
		return errors.WithContext(err, "read config")
	}

	cfg, err := config.ParseOptions(store)
	if err != nil {
		return errors.WithContext(err, "parse config")
	}

	rules, err := cfg.Rules()
	if err != nil {
		return errors.WithContext(err, "load transforms")
	}

	pipeline := sync.NewPipeline(rules)
	if !opts.dryRun {
		if err := pipeline.CheckVersions(ctx); err != nil {
			return errors.WithContext(err, "check transform tools")
		}
	}

	session, err := connect(ctx, store, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.WithError(err).Debug("Failed to close session")
		}
	}()

	reconciler := sync.NewReconciler(cfg.SyncOptions(opts.force, opts.dryRun),
		session, pipeline, logger)
	summary, err := reconciler.Run(ctx)
	if err != nil {
		return errors.WithContext(err, "deploy")
	}

	if !opts.watch {
		if n := summary.Failures(); n > 0 {
			return errors.NewFriendlyError("%d file(s) couldn't be deployed. "+
				"See the warnings above. They'll be tried again on the next "+
				"deploy.", n)
		}
		return nil
	}

	// Changes made while watching are deployed incrementally, even if the
	// first deploy was forced.
	reconciler = sync.NewReconciler(cfg.SyncOptions(false, opts.dryRun),
		session, pipeline, logger)
	return watch(ctx, cfg, reconciler, logger)
}

// connect opens a session with the remote host. If the fingerprint is being
// captured, it's saved to the configuration file once the connection
// succeeds.
func connect(ctx context.Context, store *config.Store, cfg config.Options,
	opts runOptions, logger *log.Logger) (transport.Session, error) {

	if opts.dryRun {
		logger.Info("Dry run. Nothing will be changed on the remote host.")
		return transport.DryRun{Log: logger}, nil
	}

	trust := &transport.TrustPolicy{
		Expected: cfg.Fingerprint,
		Capture:  opts.captureFingerprint,
	}
	session, err := sftpTransport.Connect(ctx, cfg.Endpoint(trust.Verify))
	if err != nil {
		return nil, errors.WithContext(err, fmt.Sprintf("connect to %s", cfg.Host))
	}

	fingerprint := trust.Observed()
	if opts.captureFingerprint && fingerprint != "" && fingerprint != cfg.Fingerprint {
		store.Set(config.KeyFingerprint, fingerprint)
		if err := store.Save(); err != nil {
			session.Close()
			return nil, errors.WithContext(err, "save fingerprint")
		}
		logger.WithField("fingerprint", fingerprint).Info("Saved the remote host's fingerprint")
	}
	return session, nil
}

// watch deploys the local directory whenever it changes, until `ctx` is
// cancelled. Failed deploys are logged rather than returned so that fixing
// the problem locally is enough to recover.
func watch(ctx context.Context, cfg config.Options, reconciler *sync.Reconciler,
	logger *log.Logger) error {

	changes, watcher, err := watchTree(cfg.LocalDir, cfg.Exclusions())
	if err != nil {
		return errors.WithContext(err, "watch local directory")
	}
	defer watcher.Close()

	logger.WithField("path", cfg.LocalDir).Info(
		"Watching for changes. Press Ctrl-C to stop.")
	for range fswatch.Debounce(ctx, clock, changes, fswatch.DefaultQuiet) {
		if _, err := reconciler.Run(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.WithError(err).Error("Deploy failed. Waiting for the next change.")
		}
	}
	logger.Info("Stopped watching")
	return nil
}
