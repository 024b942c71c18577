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
package cli

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphost/internal/commands/commandtest"
	"github.com/tombee/mcphost/internal/commands/shared"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand(shared.NewEnv(nil, io.Discard))

	assert.Equal(t, "mcphost", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)

	for _, name := range []string{"verbose", "json", "config", "trace"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
}

func TestNewRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand(shared.NewEnv(nil, io.Discard))

	tests := []struct {
		args  []string
		group string
	}{
		{[]string{"servers", "list"}, ""},
		{[]string{"servers", "validate"}, ""},
		{[]string{"config", "generate"}, ""},
		{[]string{"servers"}, GroupServers},
		{[]string{"config"}, GroupServers},
		{[]string{"connect"}, GroupSession},
		{[]string{"tools"}, GroupSession},
		{[]string{"call"}, GroupSession},
		{[]string{"resources"}, GroupSession},
		{[]string{"read"}, GroupSession},
		{[]string{"restart"}, GroupSession},
		{[]string{"metrics"}, GroupOther},
		{[]string{"completion"}, GroupOther},
		{[]string{"version"}, GroupOther},
	}
	for _, tt := range tests {
		found, _, err := cmd.Find(tt.args)
		require.NoError(t, err, tt.args)
		assert.Equal(t, tt.args[len(tt.args)-1], found.Name())
		if tt.group != "" {
			assert.Equal(t, tt.group, found.GroupID, tt.args)
		}
	}
}

func TestFlagsBindToEnv(t *testing.T) {
	env := shared.NewEnv(nil, io.Discard)
	cmd := NewRootCommand(env)

	require.NoError(t, cmd.ParseFlags([]string{"-v", "--json", "--trace", "--config", "/tmp/mcphost.yaml"}))
	assert.True(t, env.Flags.Verbose)
	assert.True(t, env.Flags.JSON)
	assert.True(t, env.Flags.Trace)
	assert.Equal(t, "/tmp/mcphost.yaml", env.Flags.ConfigPath)
}

func TestRoot_RunsThroughHarness(t *testing.T) {
	h := commandtest.New(t)

	out, err := h.Run(NewRootCommand, "--json", "servers", "list")
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, true, resp["success"])
}

func TestRoot_UnknownServerExitCode(t *testing.T) {
	h := commandtest.New(t)

	_, err := h.Run(NewRootCommand, "tools", "nope")
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}

func TestRoot_VersionFromEnv(t *testing.T) {
	h := commandtest.New(t)

	out, err := h.Run(func(env *shared.Env) *cobra.Command {
		env.SetVersion("1.2.3", "abc123", "2025-12-22")
		return NewRootCommand(env)
	}, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mcphost version 1.2.3")
}
