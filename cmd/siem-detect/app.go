package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"siem-detect/internal/cloud"
	"siem-detect/internal/config"
	"siem-detect/internal/content"
	derrors "siem-detect/internal/errors"
	"siem-detect/internal/logging"
	"siem-detect/internal/manager"
	"siem-detect/internal/registry"
	"siem-detect/internal/rule"
	s3store "siem-detect/internal/storage/s3"
)

// options are the persistent command line flags.
type options struct {
	configPath string
	logLevel   string
	rules      []string
	logTypes   []string
	severities []string
	noOverride bool
}

// app is the state shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	closer  io.Closer
	dir     *cloud.Directory
	manager *manager.Manager
}

func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// selection merges the configured content selection with flags. Flags
// replace the configured values they name.
func selection(cfg config.ContentConfig, opts *options) (registry.Query, error) {
	q := registry.Query{
		IDs:         cfg.Rules,
		LogTypes:    cfg.LogTypes,
		Tags:        cfg.Tags,
		EnabledOnly: cfg.EnabledOnly,
	}
	if len(opts.rules) > 0 {
		q.IDs = opts.rules
	}
	if len(opts.logTypes) > 0 {
		q.LogTypes = opts.logTypes
	}

	names := cfg.Severities
	if len(opts.severities) > 0 {
		names = opts.severities
	}
	for _, name := range names {
		sev, err := rule.ParseSeverity(name)
		if err != nil {
			return registry.Query{}, err
		}
		q.Severities = append(q.Severities, sev)
	}
	return q, nil
}

// newApp loads configuration, builds the logger and stages the selected
// content with every override source applied.
func newApp(ctx context.Context, opts *options) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closer: closer}
	derrors.SetProductionMode(cfg.ProductionMode)

	a.dir = cloud.Default()
	if cfg.Cloud.AccountsFile != "" {
		if a.dir, err = cloud.LoadFile(cfg.Cloud.AccountsFile); err != nil {
			a.Close()
			return nil, err
		}
	}

	sel, err := selection(cfg.Content, opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.manager = manager.New(logger)
	content.RegisterFilters(a.manager, a.dir)
	if _, err := a.manager.Load(content.Rules(a.dir), sel); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Content.TuneGuardDuty {
		content.TuneGuardDuty(a.manager)
	}

	if !opts.noOverride {
		if err := a.applyOverrides(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// applyOverrides applies local override documents and then S3 documents. A
// configured local path that does not exist is skipped.
func (a *app) applyOverrides(ctx context.Context) error {
	var paths []string
	for _, p := range a.cfg.Overrides.Paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			a.logger.Debug("override path not found", "path", p)
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) > 0 {
		if err := a.manager.ApplySource(ctx, manager.FileSource{Paths: paths}); err != nil {
			return fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	if !a.cfg.Overrides.S3Enabled {
		return nil
	}
	client, err := a.s3Client(ctx)
	if err != nil {
		return err
	}
	if err := a.manager.ApplySource(ctx, manager.S3Source{Client: client}); err != nil {
		return fmt.Errorf("failed to apply overrides: %w", err)
	}
	m := client.GetMetrics()
	a.logger.Info("applied S3 overrides",
		"bucket", client.Bucket(),
		"documents", m.ObjectsDownloaded,
		"bytes", m.BytesDownloaded)
	return nil
}

func (a *app) s3Client(ctx context.Context) (*s3store.Client, error) {
	client, err := s3store.NewClient(ctx, &a.cfg.Overrides.S3, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return client, nil
}

// Close releases the log output.
func (a *app) Close() {
	if a.closer != nil {
		a.closer.Close()
	}
}
