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
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tombee/mcphost/internal/host"
	internallog "github.com/tombee/mcphost/internal/log"
)

// Agent names a downstream CLI that reads generated configuration.
type Agent string

const (
	AgentClaude  Agent = "claude"
	AgentGemini  Agent = "gemini"
	AgentCodex   Agent = "codex"
	AgentUnknown Agent = "unknown"
)

// Config formats.
const (
	FormatJSON = "json"
	FormatTOML = "toml"
)

// geminiTimeoutMillis is written on every gemini entry.
const geminiTimeoutMillis = 60000

var braceVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// DetectAgent maps a command line to an agent by case-insensitive substring,
// checking claude, gemini and codex in that order.
func DetectAgent(command string) Agent {
	lower := strings.ToLower(command)
	for _, a := range []Agent{AgentClaude, AgentGemini, AgentCodex} {
		if strings.Contains(lower, string(a)) {
			return a
		}
	}
	return AgentUnknown
}

// ParseAgent validates an agent name.
func ParseAgent(name string) (Agent, error) {
	switch a := Agent(strings.ToLower(name)); a {
	case AgentClaude, AgentGemini, AgentCodex:
		return a, nil
	default:
		return AgentUnknown, UnknownAgentError(name)
	}
}

// ConfigOutput is a generated configuration file.
type ConfigOutput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Format  string `json:"format"`
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Registry *Registry
	Host     host.Host
	Logger   *slog.Logger
}

// Generator renders the enabled servers into per-agent configuration.
// It holds no connection state and is safe for concurrent use.
type Generator struct {
	registry *Registry
	host     host.Host
	logger   *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		registry: cfg.Registry,
		host:     cfg.Host,
		logger:   logger.With("component", "configgen"),
	}
}

// Servers returns the enabled servers expanded for root and bundle. Enabled
// built-ins are included; a user server replaces a built-in with its id.
func (g *Generator) Servers(rootPath, bundlePath string) map[string]ServerDescriptor {
	vars := PathVars(rootPath, bundlePath)
	out := make(map[string]ServerDescriptor)
	for id, d := range BuiltinServers(rootPath, bundlePath) {
		if g.registry.IsEnabled(id) {
			out[id] = d
		}
	}
	for _, d := range g.registry.GetEnabledServers() {
		out[d.ID] = Expand(d, vars)
	}
	return out
}

// Generate renders the configuration for agent. The home directory is
// fetched from the host only for agents that keep their config there.
func (g *Generator) Generate(ctx context.Context, agent Agent, rootPath, bundlePath string) (*ConfigOutput, error) {
	switch agent {
	case AgentClaude, AgentGemini, AgentCodex:
	default:
		return nil, UnknownAgentError(string(agent))
	}

	servers := g.Servers(rootPath, bundlePath)
	g.logger.Debug("generating agent config", internallog.AgentKey, string(agent), "servers", len(servers))

	switch agent {
	case AgentClaude:
		content, err := renderClaude(servers)
		if err != nil {
			return nil, err
		}
		return &ConfigOutput{Path: filepath.Join(rootPath, ".mcp.json"), Content: content, Format: FormatJSON}, nil
	case AgentGemini:
		home, err := g.homeDir(ctx)
		if err != nil {
			return nil, err
		}
		content, err := renderGemini(servers)
		if err != nil {
			return nil, err
		}
		return &ConfigOutput{Path: filepath.Join(home, ".gemini", "settings.json"), Content: content, Format: FormatJSON}, nil
	default:
		home, err := g.homeDir(ctx)
		if err != nil {
			return nil, err
		}
		return &ConfigOutput{Path: filepath.Join(home, ".codex", "config.toml"), Content: renderCodex(servers), Format: FormatTOML}, nil
	}
}

// Write generates the configuration for agent and writes it through the
// host. Nothing is written when generation fails.
func (g *Generator) Write(ctx context.Context, agent Agent, rootPath, bundlePath string) (*ConfigOutput, error) {
	out, err := g.Generate(ctx, agent, rootPath, bundlePath)
	if err != nil {
		return nil, err
	}
	if _, err := g.host.Invoke(ctx, host.CmdWriteConfig, host.WriteConfigArgs{
		Path:    out.Path,
		Content: out.Content,
		Format:  out.Format,
	}); err != nil {
		return nil, HostCallError(host.CmdWriteConfig, err)
	}
	g.logger.Info("wrote agent config", internallog.AgentKey, string(agent), "path", out.Path)
	return out, nil
}

func (g *Generator) homeDir(ctx context.Context) (string, error) {
	raw, err := g.host.Invoke(ctx, host.CmdGetHomeDir, nil)
	if err != nil {
		return "", HostCallError(host.CmdGetHomeDir, err)
	}
	var home string
	if err := json.Unmarshal(raw, &home); err != nil || home == "" {
		return "", newProtocolError("host returned no home directory", err)
	}
	return home, nil
}

type claudeStdio struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

type claudeHTTP struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func renderClaude(servers map[string]ServerDescriptor) (string, error) {
	entries := make(map[string]any, len(servers))
	for id, d := range servers {
		switch {
		case d.Transport.HTTP != nil:
			entries[id] = claudeHTTP{Type: TransportHTTP, URL: d.Transport.HTTP.URL}
		case d.Transport.Stdio != nil:
			t := d.Transport.Stdio
			entries[id] = claudeStdio{Command: t.Command, Args: nonNil(t.Args), Env: t.Env}
		}
	}
	return marshalServers(entries)
}

type geminiStdio struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout int               `json:"timeout"`
	Trust   bool              `json:"trust"`
}

type geminiHTTP struct {
	URL     string `json:"url"`
	Timeout int    `json:"timeout"`
	Trust   bool   `json:"trust"`
}

func renderGemini(servers map[string]ServerDescriptor) (string, error) {
	entries := make(map[string]any, len(servers))
	for id, d := range servers {
		switch {
		case d.Transport.HTTP != nil:
			entries[id] = geminiHTTP{URL: d.Transport.HTTP.URL, Timeout: geminiTimeoutMillis}
		case d.Transport.Stdio != nil:
			t := d.Transport.Stdio
			var env map[string]string
			if len(t.Env) > 0 {
				env = make(map[string]string, len(t.Env))
				for k, v := range t.Env {
					env[k] = braceVarRegex.ReplaceAllString(v, `$$$1`)
				}
			}
			entries[id] = geminiStdio{
				Command: t.Command,
				Args:    nonNil(t.Args),
				Env:     env,
				Timeout: geminiTimeoutMillis,
			}
		}
	}
	return marshalServers(entries)
}

func marshalServers(entries map[string]any) (string, error) {
	data, err := json.MarshalIndent(map[string]any{"mcpServers": entries}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return string(data), nil
}

func renderCodex(servers map[string]ServerDescriptor) string {
	var sections []string
	for _, id := range slices.Sorted(maps.Keys(servers)) {
		d := servers[id]
		table := "mcp_servers." + tomlString(id)

		var sb strings.Builder
		sb.WriteString("[" + table + "]\n")
		switch {
		case d.Transport.HTTP != nil:
			sb.WriteString("url = " + tomlString(d.Transport.HTTP.URL) + "\n")
		case d.Transport.Stdio != nil:
			t := d.Transport.Stdio
			sb.WriteString("command = " + tomlString(t.Command) + "\n")
			if len(t.Args) > 0 {
				quoted := make([]string, len(t.Args))
				for i, a := range t.Args {
					quoted[i] = tomlString(a)
				}
				sb.WriteString("args = [" + strings.Join(quoted, ", ") + "]\n")
			}
			if len(t.Env) > 0 {
				sb.WriteString("[" + table + ".env]\n")
				for _, k := range slices.Sorted(maps.Keys(t.Env)) {
					sb.WriteString(tomlKey(k) + " = " + tomlString(t.Env[k]) + "\n")
				}
			}
		}
		sections = append(sections, sb.String())
	}
	return strings.Join(sections, "\n")
}

var bareKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func tomlKey(k string) string {
	if bareKeyRegex.MatchString(k) {
		return k
	}
	return tomlString(k)
}

// tomlString renders s as a TOML basic string.
func tomlString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\b':
			sb.WriteString(`\b`)
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\f':
			sb.WriteString(`\f`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&sb, `\u%04X`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
