// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package app wires the mcphost components into one dependency set. The
// set is built once per process and handed to the commands that need it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tombee/mcphost/internal/config"
	"github.com/tombee/mcphost/internal/host"
	internallog "github.com/tombee/mcphost/internal/log"
	"github.com/tombee/mcphost/internal/mcp"
	"github.com/tombee/mcphost/internal/secrets"
	"github.com/tombee/mcphost/internal/settings"
	"github.com/tombee/mcphost/internal/tracing"
)

// Options control how the dependency set is built.
type Options struct {
	// ConfigPath is the YAML config file. Empty uses the default location.
	ConfigPath string

	// Verbose lowers the log level to debug.
	Verbose bool

	// TraceWriter receives exported spans when set.
	TraceWriter io.Writer

	// LogOutput receives log records.
	// Default: os.Stderr
	LogOutput io.Writer

	// Version is reported to tool servers during the handshake.
	Version string

	// Host replaces the in-process host.
	Host host.Host

	// Dial overrides how the in-process host opens tool clients.
	Dial host.Dialer

	// Store replaces the sqlite settings store.
	Store settings.Store
}

// App is the dependency set shared by every command.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Host       host.Host
	Settings   *mcp.Settings
	Registry   *mcp.Registry
	Supervisor *mcp.Supervisor
	Generator  *mcp.Generator
	Reconciler *mcp.Reconciler
	Secrets    *secrets.Resolver

	store  settings.Store
	tracer *tracing.Provider

	mu        sync.RWMutex
	onMessage func(serverID string, entry mcp.MessageEntry)
}

// New loads configuration and builds the dependency set.
func New(ctx context.Context, opts Options) (*App, error) {
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		if p, err := config.ConfigPath(); err == nil {
			cfgPath = p
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logCfg := &internallog.Config{
		Level:  cfg.Log.Level,
		Format: internallog.Format(cfg.Log.Format),
		Output: opts.LogOutput,
	}
	internallog.ApplyEnv(logCfg)
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	logger := internallog.New(logCfg)

	a := &App{Config: cfg, Logger: logger, Secrets: secrets.NewDefaultResolver()}

	if opts.TraceWriter != nil {
		a.tracer, err = tracing.NewProvider(tracing.Config{
			ServiceName:    "mcphost",
			ServiceVersion: opts.Version,
			Writer:         opts.TraceWriter,
		})
		if err != nil {
			return nil, err
		}
	}

	a.store = opts.Store
	if a.store == nil {
		path, err := cfg.ResolveSettingsDB()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve settings database: %w", err)
		}
		a.store, err = settings.NewSQLiteStore(settings.SQLiteConfig{Path: path})
		if err != nil {
			return nil, err
		}
	}

	a.Host = opts.Host
	if a.Host == nil {
		a.Host = host.NewLocal(host.LocalConfig{
			Logger:           logger,
			Store:            a.store,
			RootPath:         cfg.RootPath,
			BundlePath:       cfg.BundlePath,
			HandshakeTimeout: cfg.Supervisor.HandshakeTimeout,
			ClientVersion:    opts.Version,
			Dial:             opts.Dial,
		})
	}

	a.Settings, err = mcp.LoadSettings(ctx, a.Host)
	if err != nil {
		_ = a.store.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	a.Registry = a.Settings.Registry

	a.Supervisor = mcp.NewSupervisor(mcp.SupervisorConfig{
		Host:             a.Host,
		Logger:           logger,
		Secrets:          a.Secrets,
		RequestTimeout:   cfg.Supervisor.RequestTimeout,
		StatusCheckDelay: cfg.Supervisor.StatusCheckDelay,
		StopSettleDelay:  cfg.Supervisor.StopSettleDelay,
		OnMessage:        a.dispatchMessage,
	})
	a.Generator = mcp.NewGenerator(mcp.GeneratorConfig{
		Registry: a.Registry,
		Host:     a.Host,
		Logger:   logger,
	})
	a.Reconciler = mcp.NewReconciler(mcp.ReconcilerConfig{
		Host:         a.Host,
		Supervisor:   a.Supervisor,
		Registry:     a.Registry,
		Logger:       logger,
		RootPath:     cfg.RootPath,
		BundlePath:   cfg.BundlePath,
		FallbackRoot: fallbackRoot(),
		SettleDelay:  cfg.Supervisor.ReconnectSettleDelay,
	})

	return a, nil
}

// fallbackRoot is the user's home directory, or empty when unknown.
func fallbackRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// OnMessage sets the handler for unsolicited server messages. A nil fn
// removes it.
func (a *App) OnMessage(fn func(serverID string, entry mcp.MessageEntry)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onMessage = fn
}

func (a *App) dispatchMessage(serverID string, entry mcp.MessageEntry) {
	a.mu.RLock()
	fn := a.onMessage
	a.mu.RUnlock()
	if fn != nil {
		fn(serverID, entry)
	}
}

// SaveSettings persists the registry through the host.
func (a *App) SaveSettings(ctx context.Context) error {
	return mcp.SaveSettings(ctx, a.Host, a.Settings)
}

// Paths returns the current root and bundle path.
func (a *App) Paths(ctx context.Context) (root, bundle string, err error) {
	root, err = a.Reconciler.ResolveCurrentRoot(ctx)
	if err != nil {
		return "", "", err
	}
	return root, a.Reconciler.BundlePath(ctx), nil
}

// Descriptor returns the expanded descriptor of id. A user server wins
// over a built-in with the same id. A stdio working directory is rebound
// to the current root.
func (a *App) Descriptor(ctx context.Context, id string) (mcp.ServerDescriptor, error) {
	root, bundle, err := a.Paths(ctx)
	if err != nil {
		return mcp.ServerDescriptor{}, err
	}

	if d, ok := a.Registry.UserServer(id); ok {
		d = mcp.Expand(d, mcp.PathVars(root, bundle))
		if s := d.Transport.Stdio; s != nil && s.WorkingDir != "" {
			s.WorkingDir = root
		}
		return d, nil
	}
	if d, ok := mcp.BuiltinServers(root, bundle)[id]; ok {
		return d, nil
	}
	return mcp.ServerDescriptor{}, mcp.ErrServerNotFound(id)
}

// Connect connects id and waits until it is connected or failed.
func (a *App) Connect(ctx context.Context, id string, timeout time.Duration) error {
	d, err := a.Descriptor(ctx, id)
	if err != nil {
		return err
	}
	if err := a.Supervisor.Connect(ctx, id, d); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	st, err := a.Supervisor.WaitForStatus(waitCtx, id, mcp.StatusConnected, mcp.StatusError, mcp.StatusStopped)
	if err != nil {
		return fmt.Errorf("%s did not become ready: %w", id, err)
	}
	if st != mcp.StatusConnected {
		return fmt.Errorf("%s is %s", id, st)
	}
	return nil
}

// NewWatcher creates a source watcher that reconnects a server after its
// sources change. The caller closes it.
func (a *App) NewWatcher() (*mcp.Watcher, error) {
	return mcp.NewWatcher(mcp.WatcherConfig{
		Restarter:     a.Supervisor,
		Logger:        a.Logger,
		DebounceDelay: a.Config.Watch.Debounce,
		Ignore:        a.Config.Watch.Ignore,
	})
}

// Close disconnects every server and releases the store and tracer.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, res := range a.Supervisor.DisconnectAll(ctx) {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	a.Supervisor.Close()
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
