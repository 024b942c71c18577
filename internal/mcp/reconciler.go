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

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tombee/mcphost/internal/host"
)

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	Host       host.Host
	Supervisor *Supervisor
	Registry   *Registry
	Logger     *slog.Logger

	// RootPath is the in-memory root. It wins over every host lookup.
	RootPath string

	// BundlePath overrides the host's bundle path.
	BundlePath string

	// FallbackRoot is used when the host reports no usable directory.
	FallbackRoot string

	// SettleDelay is waited between disconnecting and reconnecting.
	// Zero uses the default, negative disables.
	// Default: 2s
	SettleDelay time.Duration
}

// Reconciler rebinds built-in servers to the current root after the root
// changed underneath them.
type Reconciler struct {
	host         host.Host
	supervisor   *Supervisor
	registry     *Registry
	logger       *slog.Logger
	bundlePath   string
	fallbackRoot string
	settleDelay  time.Duration

	mu       sync.RWMutex
	rootPath string

	lookups singleflight.Group
}

// RestartReport summarizes a forced restart.
type RestartReport struct {
	RootPath     string         `json:"root_path"`
	BundlePath   string         `json:"bundle_path"`
	Disconnected []ServerResult `json:"disconnected"`
	Reconnected  []ServerResult `json:"reconnected"`
}

// Failed returns the reconnect results that carry an error.
func (r *RestartReport) Failed() []ServerResult {
	var out []ServerResult
	for _, res := range r.Reconnected {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// NewReconciler creates a Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settle := cfg.SettleDelay
	if settle == 0 {
		settle = 2 * time.Second
	}
	return &Reconciler{
		host:         cfg.Host,
		supervisor:   cfg.Supervisor,
		registry:     cfg.Registry,
		logger:       logger.With("component", "reconciler"),
		bundlePath:   cfg.BundlePath,
		fallbackRoot: cfg.FallbackRoot,
		settleDelay:  settle,
		rootPath:     cfg.RootPath,
	}
}

// SetRootPath sets the in-memory root.
func (r *Reconciler) SetRootPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rootPath = path
}

// ResolveCurrentRoot returns the in-memory root, then the open vault
// reported by the host, then the host's working directory. Concurrent
// callers share one host lookup.
func (r *Reconciler) ResolveCurrentRoot(ctx context.Context) (string, error) {
	r.mu.RLock()
	root := r.rootPath
	r.mu.RUnlock()
	if root != "" {
		return root, nil
	}

	v, err, _ := r.lookups.Do("root", func() (any, error) {
		return r.lookupRoot(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Reconciler) lookupRoot(ctx context.Context) (string, error) {
	raw, err := r.host.Invoke(ctx, host.CmdGetVaultInfo, nil)
	if err == nil {
		var info *host.VaultInfo
		if json.Unmarshal(raw, &info) == nil && info != nil && info.Path != "" {
			return info.Path, nil
		}
	} else {
		r.logger.Debug("vault info lookup failed", "error", err)
	}

	raw, err = r.host.Invoke(ctx, host.CmdGetCurrentDir, nil)
	if err == nil {
		var dir string
		if json.Unmarshal(raw, &dir) == nil && dir != "" && dir != "/" {
			return dir, nil
		}
	} else {
		r.logger.Debug("current directory lookup failed", "error", err)
	}

	if r.fallbackRoot != "" {
		r.logger.Warn("using fallback root path", "path", r.fallbackRoot)
		return r.fallbackRoot, nil
	}
	return "", errors.New("unable to resolve the current root path")
}

// BundlePath returns the configured bundle path or asks the host for it.
// A failed lookup yields an empty path.
func (r *Reconciler) BundlePath(ctx context.Context) string {
	if r.bundlePath != "" {
		return r.bundlePath
	}
	raw, err := r.host.Invoke(ctx, host.CmdGetBundlePath, nil)
	if err != nil {
		r.logger.Warn("bundle path lookup failed", "error", err)
		return ""
	}
	var path string
	_ = json.Unmarshal(raw, &path)
	return path
}

// ForceRestartWithCurrentRoot kills every host server process, disconnects
// every session and reconnects the enabled built-ins bound to the freshly
// resolved root. Every server is attempted; failures are reported per
// server in the returned report.
func (r *Reconciler) ForceRestartWithCurrentRoot(ctx context.Context) (*RestartReport, error) {
	root, err := r.ResolveCurrentRoot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	r.logger.Info("forcing restart of mcp servers", "root", root)

	if _, err := r.host.Invoke(ctx, host.CmdKillAllProcesses, nil); err != nil {
		r.logger.Warn("failed to kill mcp processes", "error", err)
	}

	report := &RestartReport{RootPath: root}
	report.Disconnected = r.supervisor.DisconnectAll(ctx)

	if err := sleep(ctx, r.settleDelay); err != nil {
		return report, err
	}

	report.BundlePath = r.BundlePath(ctx)
	builtins := BuiltinServers(root, report.BundlePath)

	for _, id := range slices.Sorted(maps.Keys(builtins)) {
		if !r.registry.IsEnabled(id) {
			continue
		}
		d := builtins[id]
		if s := d.Transport.Stdio; s != nil {
			s.WorkingDir = root
			if usesWorkingDirRoot(id) {
				delete(s.Env, VarVaultPath)
			}
		}

		err := r.supervisor.Connect(ctx, id, d)
		if err != nil {
			r.logger.Error("failed to reconnect mcp server", "server", id, "error", err)
		}
		report.Reconnected = append(report.Reconnected, ServerResult{ServerID: id, Err: err})
	}

	r.logger.Info("mcp server restart complete",
		"root", root,
		"reconnected", len(report.Reconnected),
		"failed", len(report.Failed()),
	)
	return report, nil
}
