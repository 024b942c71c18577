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

// Package commandtest runs commands against an in-process host backed by
// an in-memory settings store.
package commandtest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphost/internal/app"
	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/host"
	"github.com/tombee/mcphost/internal/settings"
)

// DefaultConfig pins the root and bundle paths and disables the delayed
// status check.
const DefaultConfig = `
root_path: /vault
bundle_path: /bundle
supervisor:
  status_check_delay: 1h
  stop_settle_delay: 1ms
  reconnect_settle_delay: 1ms
`

// Harness shares one settings store across command runs, the way
// separate invocations share the settings database.
type Harness struct {
	t          *testing.T
	Store      *settings.MemoryStore
	ConfigPath string
	Flags      shared.Flags
	Stderr     bytes.Buffer

	// Dial opens tool clients. Default: an echo server.
	Dial host.Dialer
}

// New creates a harness writing DefaultConfig to a temp file.
func New(t *testing.T) *Harness {
	t.Helper()
	for _, key := range []string{"MCPHOST_ROOT_PATH", "MCPHOST_BUNDLE_PATH", "MCPHOST_SETTINGS_DB", "MCPHOST_REQUEST_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(key, "")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(DefaultConfig), 0o600))

	srv := NewEchoServer()
	return &Harness{
		t:          t,
		Store:      settings.NewMemoryStore(),
		ConfigPath: path,
		Dial: func(context.Context, string, host.TransportConfig) (host.ToolClient, int, error) {
			c, err := client.NewInProcessClient(srv)
			return c, 0, err
		},
	}
}

// Factory builds apps over the harness store and dialer.
func (h *Harness) Factory() shared.Factory {
	return func(ctx context.Context, opts app.Options) (*app.App, error) {
		if opts.ConfigPath == "" {
			opts.ConfigPath = h.ConfigPath
		}
		opts.Store = h.Store
		opts.Dial = h.Dial
		return app.New(ctx, opts)
	}
}

// Env returns a fresh Env carrying the harness flags.
func (h *Harness) Env() *shared.Env {
	env := shared.NewEnv(h.Factory(), &h.Stderr)
	env.Flags = h.Flags
	return env
}

// Run builds a command with build, executes it with args and returns
// stdout.
func (h *Harness) Run(build func(*shared.Env) *cobra.Command, args ...string) (string, error) {
	h.t.Helper()
	env := h.Env()
	cmd := build(env)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&h.Stderr)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(context.Background())
	require.NoError(h.t, env.Close(context.Background()))
	return out.String(), err
}

// NewEchoServer returns a server with an echo tool and one resource.
func NewEchoServer() *server.MCPServer {
	srv := server.NewMCPServer("echo", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)
	srv.AddTool(
		mcpgo.NewTool("echo", mcpgo.WithDescription("Echo the input text"), mcpgo.WithString("text", mcpgo.Required())),
		func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultText(req.GetString("text", "")), nil
		},
	)
	srv.AddResource(
		mcpgo.NewResource("note://hello", "hello", mcpgo.WithMIMEType("text/plain")),
		func(_ context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
			return []mcpgo.ResourceContents{
				mcpgo.TextResourceContents{URI: req.Params.URI, MIMEType: "text/plain", Text: "hello from the vault"},
			}, nil
		},
	)
	return srv
}
