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

package servers

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

type addOptions struct {
	name        string
	description string
	command     string
	args        []string
	env         map[string]string
	workingDir  string
	url         string
	headers     map[string]string
	bearerToken string
	disabled    bool
}

func newAddCommand(env *shared.Env) *cobra.Command {
	var opts addOptions

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register a user server",
		Long: `Register a user MCP server and enable it.

A stdio server is launched as a child process; pass --command with any
number of --arg flags. An http server is reached at --url. Commands,
arguments and environment values may reference ${VAULT_PATH} and
${BUNDLE_PATH}.

The bearer token may be a literal or a secret reference such as
env:API_TOKEN or keyring:notion.`,
		Example: `  # A stdio server bound to the vault
  mcphost servers add tasks --command ${BUNDLE_PATH}/tasks --arg --root --arg ${VAULT_PATH}

  # An http server with a token read from the keychain
  mcphost servers add notion --url https://mcp.notion.com/mcp --bearer-token keyring:notion`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, env, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Display name (default: the id)")
	cmd.Flags().StringVar(&opts.description, "description", "", "Short description")
	cmd.Flags().StringVar(&opts.command, "command", "", "Executable for a stdio server")
	cmd.Flags().StringArrayVar(&opts.args, "arg", nil, "Argument for the command (repeatable)")
	cmd.Flags().StringToStringVar(&opts.env, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&opts.workingDir, "working-dir", "", "Working directory, rebound to the vault on connect")
	cmd.Flags().StringVar(&opts.url, "url", "", "Endpoint of an http server")
	cmd.Flags().StringToStringVar(&opts.headers, "header", nil, "HTTP header NAME=VALUE (repeatable)")
	cmd.Flags().StringVar(&opts.bearerToken, "bearer-token", "", "Bearer token or secret reference for an http server")
	cmd.Flags().BoolVar(&opts.disabled, "disabled", false, "Register without enabling")
	cmd.MarkFlagsMutuallyExclusive("command", "url")

	return cmd
}

func (o addOptions) descriptor(id string) (mcp.ServerDescriptor, error) {
	d := mcp.ServerDescriptor{
		ID:           id,
		Name:         o.name,
		Description:  o.description,
		Capabilities: mcp.Capabilities{Tools: true},
		Permissions:  mcp.Permissions{Read: true},
	}
	if d.Name == "" {
		d.Name = id
	}

	switch {
	case o.command != "":
		if o.bearerToken != "" || len(o.headers) > 0 {
			return d, shared.NewInvalidInputError("--header and --bearer-token require --url", nil)
		}
		args := o.args
		if args == nil {
			args = []string{}
		}
		d.Transport.Stdio = &mcp.StdioTransport{
			Command:    o.command,
			Args:       args,
			Env:        o.env,
			WorkingDir: o.workingDir,
		}
	case o.url != "":
		if len(o.args) > 0 || len(o.env) > 0 || o.workingDir != "" {
			return d, shared.NewInvalidInputError("--arg, --env and --working-dir require --command", nil)
		}
		d.Transport.HTTP = &mcp.HTTPTransport{
			URL:         o.url,
			Headers:     o.headers,
			BearerToken: o.bearerToken,
		}
	default:
		return d, shared.NewInvalidInputError("one of --command or --url is required", nil)
	}
	return d, nil
}

func runAdd(cmd *cobra.Command, env *shared.Env, id string, opts addOptions) error {
	if err := mcp.ValidateServerName(id); err != nil {
		return err
	}
	d, err := opts.descriptor(id)
	if err != nil {
		return err
	}
	result := mcp.ValidateDescriptor(d)
	if err := result.Err(); err != nil {
		return err
	}

	a, err := env.App(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.Registry.AddUserServer(id, d); err != nil {
		return err
	}
	a.Registry.SetServerEnabled(id, !opts.disabled)
	if err := a.SaveSettings(cmd.Context()); err != nil {
		a.Registry.RemoveUserServer(id)
		return err
	}

	out := cmd.OutOrStdout()
	if env.Flags.JSON {
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			Server   string   `json:"server"`
			Enabled  bool     `json:"enabled"`
			Warnings []string `json:"warnings,omitempty"`
		}{shared.NewJSONResponse("servers add"), id, !opts.disabled, result.Warnings})
	}

	for _, w := range result.Warnings {
		fmt.Fprintln(out, shared.RenderWarn(w))
	}
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Added MCP server %s", shared.Bold.Render(id))))
	if mcp.IsBuiltinID(id) {
		fmt.Fprintln(out, shared.RenderLabel("  Replaces the built-in server with the same id."))
	}
	return nil
}

func newRemoveCommand(env *shared.Env) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a user server",
		Long: `Remove a user MCP server from the registry. Built-in servers cannot be
removed; disable them instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}
			if _, ok := a.Registry.UserServer(id); !ok {
				if mcp.IsBuiltinID(id) {
					return errors.New("built-in servers cannot be removed; use 'mcphost servers disable " + id + "'")
				}
				return mcp.ErrServerNotFound(id)
			}
			a.Registry.RemoveUserServer(id)
			if err := a.SaveSettings(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if env.Flags.JSON {
				return shared.EmitJSON(out, struct {
					shared.JSONResponse
					Server string `json:"server"`
				}{shared.NewJSONResponse("servers remove"), id})
			}
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Removed MCP server %s", shared.Bold.Render(id))))
			return nil
		},
	}
}

func newEnableCommand(env *shared.Env, enable bool) *cobra.Command {
	use, short, verb := "enable <id>", "Enable a server", "Enabled"
	if !enable {
		use, short, verb = "disable <id>", "Disable a server", "Disabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}
			if _, ok := a.Registry.UserServer(id); !ok && !mcp.IsBuiltinID(id) {
				return mcp.ErrServerNotFound(id)
			}
			a.Registry.SetServerEnabled(id, enable)
			if err := a.SaveSettings(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if env.Flags.JSON {
				return shared.EmitJSON(out, struct {
					shared.JSONResponse
					Server  string `json:"server"`
					Enabled bool   `json:"enabled"`
				}{shared.NewJSONResponse("servers " + cmd.Name()), id, enable})
			}
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s MCP server %s", verb, shared.Bold.Render(id))))
			return nil
		},
	}
}
