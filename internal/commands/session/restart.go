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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

func newRestartCommand(env *shared.Env) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the built-in servers against the current vault",
		Long: `Kill every server process known to the host, drop all sessions and
reconnect the enabled built-in servers bound to the current vault. Every
server is attempted; failures are reported per server.

The vault is --root when given, then root_path from the configuration,
then the vault reported by the host, then the working directory.`,
		Example: `  mcphost restart
  mcphost restart --root ~/notes --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}
			if root != "" {
				a.Reconciler.SetRootPath(root)
			}

			report, err := a.Reconciler.ForceRestartWithCurrentRoot(cmd.Context())
			if err != nil {
				return err
			}
			failed := report.Failed()

			out := cmd.OutOrStdout()
			if env.Flags.JSON {
				if err := shared.EmitJSON(out, struct {
					shared.JSONResponse
					*mcp.RestartReport
				}{
					JSONResponse:  shared.JSONResponse{Version: "1.0", Command: "restart", Success: len(failed) == 0},
					RestartReport: report,
				}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Root:"), report.RootPath)
				fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Bundle:"), report.BundlePath)
				if len(report.Reconnected) == 0 {
					fmt.Fprintln(out, "No built-in servers are enabled.")
				}
				for _, r := range report.Reconnected {
					if r.Err != nil {
						fmt.Fprintln(out, shared.RenderError(fmt.Sprintf("%s: %v", r.ServerID, r.Err)))
					} else {
						fmt.Fprintln(out, shared.RenderOK(r.ServerID))
					}
				}
			}

			if len(failed) > 0 {
				return &shared.ExitError{
					Code:    shared.ExitServerError,
					Message: fmt.Sprintf("%d of %d servers failed to restart", len(failed), len(report.Reconnected)),
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Vault to bind the servers to")

	return cmd
}
