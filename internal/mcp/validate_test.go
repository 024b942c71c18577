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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateServerName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "notes", false},
		{"hyphen and underscore", "my-notes_2", false},
		{"empty", "", true},
		{"leading digit", "1notes", true},
		{"space", "my notes", true},
		{"dot", "notes.v2", true},
		{"too long", "a" + strings.Repeat("b", 64), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServerName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateArg(t *testing.T) {
	tests := []struct {
		arg     string
		wantErr bool
	}{
		{"--vault", false},
		{"${VAULT_PATH}/notes", false},
		{"${BUNDLE_PATH}/x --flag=${VAULT_PATH}", false},
		{"a;rm -rf /", true},
		{"$(whoami)", true},
		{"`id`", true},
		{"x | y", true},
		{"$HOME", true},
		{"${lower-case}", true},
		{"line\nbreak", true},
	}
	for _, tt := range tests {
		err := ValidateArg(tt.arg)
		if tt.wantErr {
			assert.Error(t, err, tt.arg)
		} else {
			assert.NoError(t, err, tt.arg)
		}
	}
}

func TestValidateDescriptor(t *testing.T) {
	tests := []struct {
		name        string
		desc        ServerDescriptor
		wantErrs    []string
		wantWarning string
	}{
		{
			name: "valid absolute stdio",
			desc: ServerDescriptor{ID: "notes", Transport: Transport{Stdio: &StdioTransport{
				Command: "/usr/bin/env", Args: []string{"node", "${VAULT_PATH}/server.js"},
			}}},
		},
		{
			name: "templated command skips PATH lookup",
			desc: ServerDescriptor{ID: "fs", Transport: Transport{Stdio: &StdioTransport{
				Command: "${BUNDLE_PATH}/fs-server",
			}}},
		},
		{
			name: "empty command",
			desc: ServerDescriptor{ID: "notes", Transport: Transport{Stdio: &StdioTransport{}}},
			wantErrs: []string{"Command cannot be empty for notes"},
		},
		{
			name: "metacharacters",
			desc: ServerDescriptor{ID: "evil", Transport: Transport{Stdio: &StdioTransport{
				Command: "/bin/sh;id", Args: []string{"ok", "$(id)"},
			}}},
			wantErrs: []string{"Invalid characters in command for evil", "Invalid characters in args for evil"},
		},
		{
			name: "bad env key",
			desc: ServerDescriptor{ID: "notes", Transport: Transport{Stdio: &StdioTransport{
				Command: "/bin/true", Env: map[string]string{"BAD-KEY": "x"},
			}}},
			wantErrs: []string{"invalid environment variable key: BAD-KEY"},
		},
		{
			name: "missing command in PATH",
			desc: ServerDescriptor{ID: "notes", Transport: Transport{Stdio: &StdioTransport{
				Command: "mcphost-definitely-not-installed",
			}}},
			wantWarning: "not found in PATH",
		},
		{
			name: "working dir warning",
			desc: ServerDescriptor{ID: "notes", Transport: Transport{Stdio: &StdioTransport{
				Command: "/bin/true", WorkingDir: "/tmp",
			}}},
			wantWarning: "working_dir",
		},
		{
			name:     "invalid id",
			desc:     ServerDescriptor{ID: "1bad", Transport: Transport{Stdio: &StdioTransport{Command: "/bin/true"}}},
			wantErrs: []string{"Invalid server name"},
		},
		{
			name:     "missing transport",
			desc:     ServerDescriptor{ID: "notes"},
			wantErrs: []string{"missing transport"},
		},
		{
			name: "valid https",
			desc: ServerDescriptor{ID: "remote", Transport: Transport{HTTP: &HTTPTransport{
				URL: "https://mcp.example.com/mcp", BearerToken: "keyring:remote",
			}}},
		},
		{
			name: "local plain http",
			desc: ServerDescriptor{ID: "local", Transport: Transport{HTTP: &HTTPTransport{URL: "http://localhost:8080/mcp"}}},
		},
		{
			name:        "remote plain http",
			desc:        ServerDescriptor{ID: "remote", Transport: Transport{HTTP: &HTTPTransport{URL: "http://mcp.example.com/mcp"}}},
			wantWarning: "plain http",
		},
		{
			name: "plain text bearer",
			desc: ServerDescriptor{ID: "remote", Transport: Transport{HTTP: &HTTPTransport{
				URL: "https://mcp.example.com/mcp", BearerToken: "abc123",
			}}},
			wantWarning: "plain text",
		},
		{
			name:     "invalid url",
			desc:     ServerDescriptor{ID: "remote", Transport: Transport{HTTP: &HTTPTransport{URL: "not a url"}}},
			wantErrs: []string{"Invalid URL for remote"},
		},
		{
			name:     "unsupported scheme",
			desc:     ServerDescriptor{ID: "remote", Transport: Transport{HTTP: &HTTPTransport{URL: "ftp://mcp.example.com"}}},
			wantErrs: []string{"Invalid URL scheme for remote: ftp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ValidateDescriptor(tt.desc)
			assert.Equal(t, len(tt.wantErrs) == 0, r.Valid, "errors: %v", r.Errors)
			require.Len(t, r.Errors, len(tt.wantErrs))
			for i, want := range tt.wantErrs {
				assert.Contains(t, r.Errors[i], want)
			}
			if tt.wantWarning != "" {
				assert.Contains(t, strings.Join(r.Warnings, "\n"), tt.wantWarning)
			}

			if r.Valid {
				assert.NoError(t, r.Err())
			} else {
				assert.True(t, errors.Is(r.Err(), ErrValidation))
			}
		})
	}
}

func TestRedaction(t *testing.T) {
	env := map[string]string{"API_KEY": "k", "GITHUB_TOKEN": "t", "PATH": "/bin"}
	redacted := RedactEnv(env)
	assert.Equal(t, "***REDACTED***", redacted["API_KEY"])
	assert.Equal(t, "***REDACTED***", redacted["GITHUB_TOKEN"])
	assert.Equal(t, "/bin", redacted["PATH"])
	assert.Equal(t, "k", env["API_KEY"])
	assert.Nil(t, RedactEnv(nil))

	headers := RedactHeaders(map[string]string{"authorization": "Bearer x", "Accept": "application/json"})
	assert.Equal(t, "***REDACTED***", headers["authorization"])
	assert.Equal(t, "application/json", headers["Accept"])
}
