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
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

type validationEntry struct {
	Server string `json:"server"`
	mcp.ValidationResult
}

func newValidateCommand(env *shared.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [id]",
		Short: "Validate user server descriptors",
		Long: `Check user server descriptors for problems that would stop them from
starting: invalid ids, empty commands, shell metacharacters in arguments,
malformed URLs and environment keys. Missing executables are reported as
warnings.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}

			descriptors := a.Registry.UserServers()
			if len(args) == 1 {
				d, ok := a.Registry.UserServer(args[0])
				if !ok {
					return mcp.ErrServerNotFound(args[0])
				}
				descriptors = []mcp.ServerDescriptor{d}
			}

			var entries []validationEntry
			invalid := 0
			for _, d := range descriptors {
				r := mcp.ValidateDescriptor(d)
				if !r.Valid {
					invalid++
				}
				entries = append(entries, validationEntry{Server: d.ID, ValidationResult: r})
			}

			out := cmd.OutOrStdout()
			if env.Flags.JSON {
				if invalid > 0 {
					var errs []shared.JSONError
					for _, e := range entries {
						for _, msg := range e.Errors {
							errs = append(errs, shared.JSONError{Code: string(mcp.ErrorCodeValidation), Message: msg, Server: e.Server})
						}
					}
					if err := shared.EmitJSONError(out, "servers validate", errs); err != nil {
						return err
					}
				} else if err := shared.EmitJSON(out, struct {
					shared.JSONResponse
					Results []validationEntry `json:"results"`
				}{shared.NewJSONResponse("servers validate"), entries}); err != nil {
					return err
				}
			} else {
				printValidation(cmd, entries)
			}

			if invalid > 0 {
				return &shared.ExitError{
					Code:    shared.ExitInvalidInput,
					Message: fmt.Sprintf("%d of %d servers failed validation", invalid, len(entries)),
				}
			}
			return nil
		},
	}
}

func printValidation(cmd *cobra.Command, entries []validationEntry) {
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No user servers to validate.")
		return
	}
	for _, e := range entries {
		if e.Valid {
			fmt.Fprintln(out, shared.RenderOK(e.Server))
		} else {
			fmt.Fprintln(out, shared.RenderError(e.Server))
		}
		for _, msg := range e.Errors {
			fmt.Fprintf(out, "    %s\n", msg)
		}
		for _, msg := range e.Warnings {
			fmt.Fprintf(out, "    %s\n", shared.StatusWarn.Render(strings.TrimSpace(msg)))
		}
	}
}
