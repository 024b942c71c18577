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

package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/completion"
	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

func newResourcesCommand(env *shared.Env) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:               "resources <id>",
		Short:             "List the resources of a server",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.ServerIDs(env),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}
			if err := connect(cmd.Context(), cmd, a, id, timeout); err != nil {
				return err
			}
			resources, err := a.Supervisor.ListResources(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if env.Flags.JSON {
				return shared.EmitJSON(out, struct {
					shared.JSONResponse
					Server    string         `json:"server"`
					Resources []mcp.Resource `json:"resources"`
				}{shared.NewJSONResponse("resources"), id, resources})
			}

			if len(resources) == 0 {
				fmt.Fprintln(out, "No resources available from this server.")
				return nil
			}
			tbl := shared.NewTable(32, 20, 16)
			tbl.Row("URI", "NAME", "TYPE", "DESCRIPTION")
			for _, r := range resources {
				tbl.Row(r.URI, r.Name, r.MimeType, r.Description)
			}
			fmt.Fprint(out, tbl.String())
			return nil
		},
	}

	addTimeoutFlag(cmd, &timeout)

	return cmd
}

func newReadCommand(env *shared.Env) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "read <id> <uri>",
		Short: "Read a resource",
		Long: `Connect to a server and read one resource. Text contents are printed
as is; use --json for the full result.`,
		Example:           `  mcphost read filesystem file:///notes/todo.md`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completion.ServerIDs(env),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, uri := args[0], args[1]
			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}
			if err := connect(cmd.Context(), cmd, a, id, timeout); err != nil {
				return err
			}
			result, err := a.Supervisor.ReadResource(cmd.Context(), id, uri)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if env.Flags.JSON {
				return shared.EmitJSON(out, json.RawMessage(result))
			}
			var decoded struct {
				Contents []contentBlock `json:"contents"`
			}
			if err := json.Unmarshal(result, &decoded); err != nil {
				return fmt.Errorf("malformed resources/read result: %w", err)
			}
			printContent(out, decoded.Contents)
			return nil
		},
	}

	addTimeoutFlag(cmd, &timeout)

	return cmd
}
