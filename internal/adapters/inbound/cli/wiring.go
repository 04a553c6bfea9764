package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/openkraft/anvil/internal/adapters/outbound/config"
	"github.com/openkraft/anvil/internal/adapters/outbound/detector"
	"github.com/openkraft/anvil/internal/adapters/outbound/export"
	"github.com/openkraft/anvil/internal/adapters/outbound/gitinfo"
	"github.com/openkraft/anvil/internal/adapters/outbound/logging"
	"github.com/openkraft/anvil/internal/adapters/outbound/metrics"
	"github.com/openkraft/anvil/internal/adapters/outbound/scanner"
	"github.com/openkraft/anvil/internal/adapters/outbound/sqlite"
	"github.com/openkraft/anvil/internal/application"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/registry"
	"go.uber.org/zap"
)

// env is everything a command needs once the project is known.
type env struct {
	projectPath string
	cfg         domain.Config
	loader      *config.YAMLLoader
	registry    *registry.Registry
	logger      *zap.Logger
}

// setup loads the project config and builds the logger and registry.
// Validator names are needed to validate the config, and the config picks
// the log level, so the registry is built twice.
func (o *rootOptions) setup(args []string, configPath string) (*env, error) {
	projectPath := "."
	if len(args) > 0 {
		projectPath = args[0]
	}
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	probe, err := o.newRegistry(zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("registering validators: %w", err)
	}
	loader := config.New(probe.Known())

	var cfg domain.Config
	if configPath != "" {
		if !filepath.IsAbs(configPath) {
			configPath = filepath.Join(absPath, configPath)
		}
		cfg, err = loader.LoadFile(configPath)
	} else {
		cfg, err = loader.Load(absPath)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(firstSet(o.logLevel, cfg.Logging.Level), firstSet(o.logFormat, cfg.Logging.Format))
	if err != nil {
		return nil, err
	}
	reg, err := o.newRegistry(logger)
	if err != nil {
		return nil, fmt.Errorf("registering validators: %w", err)
	}

	return &env{projectPath: absPath, cfg: cfg, loader: loader, registry: reg, logger: logger}, nil
}

func (e *env) runService(m *metrics.Metrics) *application.RunService {
	return application.NewRunService(
		e.registry,
		e.loader,
		scanner.New(detector.New()),
		gitinfo.New(),
		e.storeOpener(),
		export.New(),
		m,
		e.logger,
	)
}

func (e *env) storeOpener() application.StoreOpener {
	return func(path string, window int) (domain.StatsStore, error) {
		s, err := sqlite.Open(path, sqlite.WithWindow(window), sqlite.WithLogger(e.logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// openStore opens the project's statistics database for the query-side
// commands. The caller closes it.
func (e *env) openStore() (*sqlite.Store, error) {
	path := e.cfg.Statistics.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.projectPath, path)
	}
	store, err := sqlite.Open(path, sqlite.WithWindow(e.cfg.Statistics.Window), sqlite.WithLogger(e.logger))
	if err != nil {
		return nil, fmt.Errorf("opening statistics database: %w", err)
	}
	return store, nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
