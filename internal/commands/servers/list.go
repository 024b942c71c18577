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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/app"
	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

// serverEntry is one row of 'servers list'.
type serverEntry struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source"`
	Transport   string            `json:"transport"`
	Target      string            `json:"target"`
	Enabled     bool              `json:"enabled"`
	Env         map[string]string `json:"env,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

func newListCommand(env *shared.Env) *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in and user servers",
		Long: `List every MCP server known to mcphost with its transport and
whether it is enabled. A user server with the same id as a built-in
replaces it.

See also: mcphost servers add, mcphost config generate`,
		Example: `  # List all servers
  mcphost servers list

  # Only enabled servers, as JSON
  mcphost servers list --enabled --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}
			return runList(cmd, env, a, enabledOnly)
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only show enabled servers")

	return cmd
}

func listEntries(a *app.App) []serverEntry {
	var entries []serverEntry
	seen := make(map[string]bool)

	add := func(d mcp.ServerDescriptor, source string) {
		e := serverEntry{
			ID:          d.ID,
			Name:        d.Name,
			Description: d.Description,
			Source:      source,
			Transport:   d.Transport.Kind(),
			Enabled:     a.Registry.IsEnabled(d.ID),
		}
		switch {
		case d.Transport.Stdio != nil:
			e.Target = d.Transport.Stdio.Command
			e.Env = mcp.RedactEnv(d.Transport.Stdio.Env)
		case d.Transport.HTTP != nil:
			e.Target = d.Transport.HTTP.URL
			e.Headers = mcp.RedactHeaders(d.Transport.HTTP.Headers)
		}
		entries = append(entries, e)
		seen[d.ID] = true
	}

	for _, d := range a.Registry.UserServers() {
		add(d, "user")
	}
	for _, d := range mcp.BuiltinCatalogue() {
		if !seen[d.ID] {
			add(d, "builtin")
		}
	}
	return entries
}

func runList(cmd *cobra.Command, env *shared.Env, a *app.App, enabledOnly bool) error {
	out := cmd.OutOrStdout()

	var entries []serverEntry
	for _, e := range listEntries(a) {
		if enabledOnly && !e.Enabled {
			continue
		}
		entries = append(entries, e)
	}

	if env.Flags.JSON {
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			Servers []serverEntry `json:"servers"`
		}{shared.NewJSONResponse("servers list"), nonNil(entries)})
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No MCP servers found.")
		fmt.Fprintln(out, "\nTo add a server:")
		fmt.Fprintln(out, "  mcphost servers add <id> --command <cmd>")
		return nil
	}

	tbl := shared.NewTable(20, 8, 6, 8)
	tbl.Row("ID", "SOURCE", "TYPE", "ENABLED", "TARGET")
	for _, e := range entries {
		enabled := "no"
		if e.Enabled {
			enabled = "yes"
		}
		tbl.Row(e.ID, e.Source, e.Transport, enabled, e.Target)
	}
	fmt.Fprint(out, tbl.String())
	return nil
}

func nonNil(entries []serverEntry) []serverEntry {
	if entries == nil {
		return []serverEntry{}
	}
	return entries
}
