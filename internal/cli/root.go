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
	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/completion"
	"github.com/tombee/mcphost/internal/commands/config"
	"github.com/tombee/mcphost/internal/commands/metrics"
	"github.com/tombee/mcphost/internal/commands/servers"
	"github.com/tombee/mcphost/internal/commands/session"
	"github.com/tombee/mcphost/internal/commands/shared"
	versioncmd "github.com/tombee/mcphost/internal/commands/version"
)

// Command groups shown in help output.
const (
	GroupServers = "servers"
	GroupSession = "session"
	GroupOther   = "other"
)

// NewRootCommand creates the root command with every subcommand attached.
// Commands read flags from env and build the dependency set through it.
func NewRootCommand(env *shared.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcphost",
		Short: "mcphost - manage and talk to MCP tool servers",
		Long: `mcphost keeps a registry of MCP tool servers, runs them through the host
process, and writes the server configuration that coding agents read.

Run 'mcphost servers list' to see the registered servers.
Run 'mcphost config generate' to write the agent configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&env.Flags.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVar(&env.Flags.JSON, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(&env.Flags.ConfigPath, "config", "", "Path to config file (default: ~/.config/mcphost/config.yaml)")
	cmd.PersistentFlags().BoolVar(&env.Flags.Trace, "trace", false, "Write trace spans to stderr")

	cmd.AddGroup(
		&cobra.Group{ID: GroupServers, Title: "Server Commands:"},
		&cobra.Group{ID: GroupSession, Title: "Session Commands:"},
		&cobra.Group{ID: GroupOther, Title: "Other Commands:"},
	)

	add := func(group string, cmds ...*cobra.Command) {
		for _, c := range cmds {
			c.GroupID = group
			cmd.AddCommand(c)
		}
	}
	add(GroupServers, servers.NewServersCommand(env), config.NewConfigCommand(env))
	add(GroupSession, session.NewCommands(env)...)
	add(GroupOther,
		metrics.NewMetricsCommand(env),
		completion.NewCommand(),
		versioncmd.NewVersionCommand(env),
	)

	help := NewHelpCommand(cmd, env)
	help.GroupID = GroupOther
	cmd.SetHelpCommand(help)

	return cmd
}
