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
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphost/internal/host"
	"github.com/tombee/mcphost/internal/host/hosttest"
)

func newTestGenerator(t *testing.T, servers map[string]ServerDescriptor) (*Generator, *hosttest.FakeHost) {
	t.Helper()
	reg := NewRegistry()
	for id, d := range servers {
		require.NoError(t, reg.AddUserServer(id, d))
		reg.SetServerEnabled(id, true)
	}
	h := hosttest.New()
	h.Reply(host.CmdGetHomeDir, "/home/u")
	return NewGenerator(GeneratorConfig{Registry: reg, Host: h}), h
}

func templatedServer() ServerDescriptor {
	return ServerDescriptor{
		Name: "X",
		Transport: Transport{Stdio: &StdioTransport{
			Command: "${BUNDLE_PATH}/x",
			Args:    []string{"${VAULT_PATH}"},
			Env:     map[string]string{"API_KEY": "${API_KEY}"},
		}},
	}
}

func TestDetectAgent(t *testing.T) {
	tests := map[string]Agent{
		"claude":                      AgentClaude,
		"/usr/local/bin/Claude --yes": AgentClaude,
		"npx @google/gemini-cli":      AgentGemini,
		"codex exec":                  AgentCodex,
		"claude-gemini-codex":         AgentClaude,
		"gemini codex":                AgentGemini,
		"aider":                       AgentUnknown,
		"":                            AgentUnknown,
	}
	for command, want := range tests {
		assert.Equal(t, want, DetectAgent(command), command)
	}
}

func TestParseAgent(t *testing.T) {
	a, err := ParseAgent("Gemini")
	require.NoError(t, err)
	assert.Equal(t, AgentGemini, a)

	_, err = ParseAgent("cursor")
	assert.True(t, errors.Is(err, ErrUnknownAgent))
}

func TestGenerate_Claude(t *testing.T) {
	gen, h := newTestGenerator(t, map[string]ServerDescriptor{
		"x": templatedServer(),
		"bare": {
			Transport: Transport{Stdio: &StdioTransport{Command: "node"}},
		},
		"remote": {
			Transport: Transport{HTTP: &HTTPTransport{URL: "https://mcp.example.com/mcp", BearerToken: "secret"}},
		},
	})

	out, err := gen.Generate(context.Background(), AgentClaude, "/v", "/b")
	require.NoError(t, err)
	assert.Equal(t, "/v/.mcp.json", out.Path)
	assert.Equal(t, FormatJSON, out.Format)
	assert.Zero(t, h.CallCount(host.CmdGetHomeDir))

	var doc struct {
		MCPServers map[string]map[string]any `json:"mcpServers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.Content), &doc))

	x := doc.MCPServers["x"]
	assert.Equal(t, "/b/x", x["command"])
	assert.Equal(t, []any{"/v"}, x["args"])
	assert.Equal(t, map[string]any{"API_KEY": "${API_KEY}"}, x["env"])
	assert.NotContains(t, x, "type")

	bare := doc.MCPServers["bare"]
	assert.Equal(t, []any{}, bare["args"])
	assert.NotContains(t, bare, "env")

	assert.Equal(t, map[string]any{"type": "http", "url": "https://mcp.example.com/mcp"}, doc.MCPServers["remote"])

	assert.Contains(t, out.Content, "\n  \"mcpServers\"")
}

func TestGenerate_Gemini(t *testing.T) {
	gen, h := newTestGenerator(t, map[string]ServerDescriptor{
		"x": templatedServer(),
		"remote": {
			Transport: Transport{HTTP: &HTTPTransport{URL: "https://mcp.example.com/mcp"}},
		},
	})

	out, err := gen.Generate(context.Background(), AgentGemini, "/v", "/b")
	require.NoError(t, err)
	assert.Equal(t, "/home/u/.gemini/settings.json", out.Path)
	assert.Equal(t, 1, h.CallCount(host.CmdGetHomeDir))

	var doc struct {
		MCPServers map[string]map[string]any `json:"mcpServers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.Content), &doc))

	x := doc.MCPServers["x"]
	assert.Equal(t, "/b/x", x["command"])
	assert.EqualValues(t, 60000, x["timeout"])
	assert.Equal(t, false, x["trust"])
	assert.Equal(t, map[string]any{"API_KEY": "$API_KEY"}, x["env"])

	assert.Equal(t, map[string]any{
		"url":     "https://mcp.example.com/mcp",
		"timeout": float64(60000),
		"trust":   false,
	}, doc.MCPServers["remote"])
}

func TestGenerate_Codex(t *testing.T) {
	gen, _ := newTestGenerator(t, map[string]ServerDescriptor{
		"x": templatedServer(),
		"y": {Transport: Transport{Stdio: &StdioTransport{Command: "node"}}},
	})

	out, err := gen.Generate(context.Background(), AgentCodex, "/v", "/b")
	require.NoError(t, err)
	assert.Equal(t, "/home/u/.codex/config.toml", out.Path)
	assert.Equal(t, FormatTOML, out.Format)

	want := `[mcp_servers."x"]
command = "/b/x"
args = ["/v"]
[mcp_servers."x".env]
API_KEY = "${API_KEY}"

[mcp_servers."y"]
command = "node"
`
	assert.Equal(t, want, out.Content)

	var doc struct {
		MCPServers map[string]struct {
			Command string            `toml:"command"`
			Args    []string          `toml:"args"`
			Env     map[string]string `toml:"env"`
		} `toml:"mcp_servers"`
	}
	_, err = toml.Decode(out.Content, &doc)
	require.NoError(t, err)
	assert.Equal(t, "/b/x", doc.MCPServers["x"].Command)
	assert.Empty(t, doc.MCPServers["y"].Args)
}

func TestGenerate_CodexEscapesValues(t *testing.T) {
	gen, _ := newTestGenerator(t, map[string]ServerDescriptor{
		`we"ird`: {Transport: Transport{Stdio: &StdioTransport{
			Command: `C:\tools\server.exe`,
			Args:    []string{`say "hi"`, "line\nbreak", "tab\there"},
			Env:     map[string]string{"MY KEY": "bell\x07"},
		}}},
	})

	out, err := gen.Generate(context.Background(), AgentCodex, "/v", "/b")
	require.NoError(t, err)

	var doc map[string]map[string]map[string]any
	_, err = toml.Decode(out.Content, &doc)
	require.NoError(t, err, out.Content)

	entry := doc["mcp_servers"][`we"ird`]
	require.NotNil(t, entry)
	assert.Equal(t, `C:\tools\server.exe`, entry["command"])
	assert.Equal(t, []any{`say "hi"`, "line\nbreak", "tab\there"}, entry["args"])
	assert.Equal(t, map[string]any{"MY KEY": "bell\x07"}, entry["env"])
}

func TestGenerate_BuiltinsFilteredAndOverridden(t *testing.T) {
	reg := NewRegistry()
	reg.SetServerEnabled("filesystem", true)
	reg.SetServerEnabled("search", true)
	require.NoError(t, reg.AddUserServer("search", ServerDescriptor{
		Transport: Transport{Stdio: &StdioTransport{Command: "my-search"}},
	}))
	gen := NewGenerator(GeneratorConfig{Registry: reg, Host: hosttest.New()})

	servers := gen.Servers("/v", "/b")
	require.Len(t, servers, 2)
	assert.Equal(t, "/b/mcp-servers/filesystem-server", servers["filesystem"].Transport.Stdio.Command)
	assert.Equal(t, "/v", servers["filesystem"].Transport.Stdio.WorkingDir)
	assert.Equal(t, "my-search", servers["search"].Transport.Stdio.Command)
	assert.NotContains(t, servers, "git")
}

func TestGenerate_UnknownAgent(t *testing.T) {
	gen, h := newTestGenerator(t, nil)

	_, err := gen.Generate(context.Background(), Agent("cursor"), "/v", "/b")
	assert.True(t, errors.Is(err, ErrUnknownAgent))

	_, err = gen.Write(context.Background(), AgentUnknown, "/v", "/b")
	assert.True(t, errors.Is(err, ErrUnknownAgent))
	assert.Zero(t, h.CallCount(host.CmdWriteConfig))
}

func TestGenerate_HomeDirFailure(t *testing.T) {
	gen, h := newTestGenerator(t, nil)
	h.Fail(host.CmdGetHomeDir, errors.New("no home"))

	_, err := gen.Write(context.Background(), AgentCodex, "/v", "/b")
	assert.True(t, errors.Is(err, ErrHostCallFailure))
	assert.Zero(t, h.CallCount(host.CmdWriteConfig))
}

func TestGenerator_Write(t *testing.T) {
	gen, h := newTestGenerator(t, map[string]ServerDescriptor{"x": templatedServer()})

	out, err := gen.Write(context.Background(), AgentClaude, "/v", "/b")
	require.NoError(t, err)

	calls := h.Calls(host.CmdWriteConfig)
	require.Len(t, calls, 1)
	var args host.WriteConfigArgs
	require.NoError(t, json.Unmarshal(calls[0].Args, &args))
	assert.Equal(t, "/v/.mcp.json", args.Path)
	assert.Equal(t, out.Content, args.Content)
	assert.Equal(t, FormatJSON, args.Format)

	h.Fail(host.CmdWriteConfig, errors.New("read-only file system"))
	_, err = gen.Write(context.Background(), AgentClaude, "/v", "/b")
	assert.True(t, errors.Is(err, ErrHostCallFailure))
}

func TestTomlString(t *testing.T) {
	tests := map[string]string{
		"plain":    `"plain"`,
		`q"uote`:   `"q\"uote"`,
		`back\`:    `"back\\"`,
		"nl\n":     `"nl\n"`,
		"ctl\x01":  `"ctl\u0001"`,
		"del\x7f":  `"del\u007F"`,
		"unicode✓": `"unicode✓"`,
	}
	for in, want := range tests {
		assert.Equal(t, want, tomlString(in), in)
	}
}
