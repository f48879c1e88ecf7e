// Package app holds the bootstrap shared by the taskflow binaries: flags,
// configuration, logging, metrics and the lifecycle of the HTTP server and
// background loops.
package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/taskflow/internal/httpapi"
	"github.com/drblury/taskflow/internal/runtime"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// ConfigEnv names the environment variable holding the config file path when
// -config is not given.
const ConfigEnv = "TASKFLOW_CONFIG"

const defaultConfigPath = "configs/app_conf.yml"

// DefaultPorts are the listen ports used when service.http_port is not set.
var DefaultPorts = map[string]int{
	"receiver":   8080,
	"storage":    8090,
	"processing": 8100,
	"analyzer":   8110,
	"anomaly":    8120,
}

// serviceDefaults are per-binary settings that differ from the shared defaults.
var serviceDefaults = map[string]map[string]any{
	// The audit is in memory, so it rebuilds from the whole topic on every start.
	"analyzer": {
		"events.initial_offset":  configpkg.OffsetEarliest,
		"events.replay_on_start": true,
	},
}

// App is a bootstrapped service.
type App struct {
	Conf     *configpkg.Config
	Loader   *configpkg.Loader
	Log      loggingpkg.ServiceLogger
	Registry *prometheus.Registry
	Metrics  *runtime.Metrics
}

// New parses args, loads the configuration and builds the logger and metrics.
// Log lines go to out.
func New(name string, args []string, out io.Writer) (*App, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", configPath(), "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	loader := configpkg.NewLoader(*path)
	loader.SetDefault("service.name", name)
	if port, ok := DefaultPorts[name]; ok {
		loader.SetDefault("service.http_port", port)
	}
	for key, value := range serviceDefaults[name] {
		loader.SetDefault(key, value)
	}
	conf, err := loader.Load()
	if err != nil {
		return nil, err
	}

	log := loggingpkg.New(out, conf.Service.Name, conf.Service.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := runtime.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	log.Info("Configuration loaded", loggingpkg.LogFields{"config": conf.String()})
	return &App{Conf: conf, Loader: loader, Log: log, Registry: reg, Metrics: metrics}, nil
}

func configPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	return defaultConfigPath
}

// Router returns the service router with /health backed by health.
func (a *App) Router(health func(ctx context.Context) error) chi.Router {
	cfg := httpapi.RouterConfig{
		Service:            a.Conf.Service.Name,
		Logger:             a.Log,
		CORSAllowedOrigins: a.Conf.Service.CORSAllowedOrigins,
		Health:             health,
	}
	if a.Conf.Metrics.Enabled {
		cfg.Gatherer = a.Registry
	}
	return httpapi.NewRouter(cfg)
}

// ServiceDependencies returns consumer dependencies sharing the app's metrics.
func (a *App) ServiceDependencies() runtime.ServiceDependencies {
	return runtime.ServiceDependencies{Metrics: a.Metrics, Registerer: a.Registry}
}

// Run serves handler and runs every loop until ctx is cancelled or one of
// them fails. The first failure cancels the others.
func (a *App) Run(ctx context.Context, handler http.Handler, loops ...func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.Serve(ctx, a.Conf.Service.ListenAddr(), handler, a.Log)
	})
	for _, loop := range loops {
		g.Go(func() error { return loop(ctx) })
	}
	return g.Wait()
}

// Main runs a service binary and exits the process with its result.
func Main(name string, run func(ctx context.Context, a *App) error) {
	os.Exit(exitCode(name, run))
}

func exitCode(name string, run func(ctx context.Context, a *App) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(name, os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		return 1
	}

	if err := run(ctx, a); err != nil {
		a.Log.Error("Service stopped with error", err, nil)
		return 1
	}
	a.Log.Info("Service stopped", nil)
	return 0
}
