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

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/completion"
	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

// AgentCommandEnv names the environment variable consulted by
// --agent auto when --command is not given.
const AgentCommandEnv = "MCPHOST_AGENT_COMMAND"

func newGenerateCommand(env *shared.Env) *cobra.Command {
	var (
		agentName    string
		agentCommand string
		write        bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render the MCP config for a coding agent",
		Long: `Render the MCP server configuration for a coding agent. Enabled servers
are included with ${VAULT_PATH} and ${BUNDLE_PATH} expanded. For gemini,
other ${VAR} references in the environment are rewritten to $VAR.

  claude  <vault>/.mcp.json
  gemini  ~/.gemini/settings.json
  codex   ~/.codex/config.toml

With --agent auto the dialect is detected from --command, or from
` + AgentCommandEnv + ` when --command is empty.`,
		Example: `  # Print the Claude config
  mcphost config generate --agent claude

  # Detect the agent and write its config file
  mcphost config generate --agent auto --command "gemini --yolo" --write`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := resolveAgent(agentName, agentCommand)
			if err != nil {
				return err
			}

			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}
			root, bundle, err := a.Paths(cmd.Context())
			if err != nil {
				return err
			}

			var result *mcp.ConfigOutput
			if write {
				result, err = a.Generator.Write(cmd.Context(), agent, root, bundle)
			} else {
				result, err = a.Generator.Generate(cmd.Context(), agent, root, bundle)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if env.Flags.JSON {
				return shared.EmitJSON(out, struct {
					shared.JSONResponse
					Agent   mcp.Agent `json:"agent"`
					Written bool      `json:"written"`
					*mcp.ConfigOutput
				}{shared.NewJSONResponse("config generate"), agent, write, result})
			}
			if write {
				fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Wrote %s config to %s", agent, result.Path)))
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderLabel("# "+result.Path))
			fmt.Fprint(out, result.Content)
			if !strings.HasSuffix(result.Content, "\n") {
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agentName, "agent", "auto", "Agent dialect: claude, gemini, codex or auto")
	cmd.Flags().StringVar(&agentCommand, "command", "", "Agent command line used by --agent auto")
	cmd.Flags().BoolVar(&write, "write", false, "Write the file instead of printing it")
	_ = cmd.RegisterFlagCompletionFunc("agent", completion.Agents)

	return cmd
}

func resolveAgent(name, command string) (mcp.Agent, error) {
	if name != "auto" {
		return mcp.ParseAgent(name)
	}
	if command == "" {
		command = os.Getenv(AgentCommandEnv)
	}
	if command == "" {
		return mcp.AgentUnknown, shared.NewInvalidInputError("--agent auto needs --command or "+AgentCommandEnv, nil)
	}
	agent := mcp.DetectAgent(command)
	if agent == mcp.AgentUnknown {
		return agent, mcp.UnknownAgentError(command)
	}
	return agent, nil
}
