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
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/mcphost/internal/app"
	"github.com/tombee/mcphost/internal/commands/completion"
	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

type toolListing struct {
	Server string     `json:"server"`
	Tools  []mcp.Tool `json:"tools"`
	Error  string     `json:"error,omitempty"`
}

func newToolsCommand(env *shared.Env) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "tools [id]",
		Short: "List the tools of one or every enabled server",
		Long: `List the tools exposed by a server. Without an id every enabled server
is connected and listed; a server that fails to start is reported and does
not hide the others.`,
		Example: `  mcphost tools filesystem
  mcphost tools --json | jq -r '.servers[].tools[].name'`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completion.ServerIDs(env),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}

			var listings []toolListing
			if len(args) == 1 {
				id := args[0]
				if err := connect(cmd.Context(), cmd, a, id, timeout); err != nil {
					return err
				}
				tools, err := a.Supervisor.ListTools(cmd.Context(), id)
				if err != nil {
					return err
				}
				listings = []toolListing{{Server: id, Tools: tools}}
			} else {
				listings = listAll(cmd, a, timeout)
			}

			out := cmd.OutOrStdout()
			if env.Flags.JSON {
				return shared.EmitJSON(out, struct {
					shared.JSONResponse
					Servers []toolListing `json:"servers"`
				}{shared.NewJSONResponse("tools"), listings})
			}

			if len(listings) == 0 {
				fmt.Fprintln(out, "No enabled servers.")
				fmt.Fprintln(out, "\nTo enable one:")
				fmt.Fprintln(out, "  mcphost servers enable <id>")
				return nil
			}
			for _, l := range listings {
				if l.Error != "" {
					fmt.Fprintln(out, shared.RenderError(fmt.Sprintf("%s: %s", l.Server, l.Error)))
					continue
				}
				printTools(out, l.Server, l.Tools)
			}
			return nil
		},
	}

	addTimeoutFlag(cmd, &timeout)

	return cmd
}

// listAll connects every enabled server concurrently and lists the tools
// of those that came up.
func listAll(cmd *cobra.Command, a *app.App, timeout time.Duration) []toolListing {
	ctx := cmd.Context()
	ids := a.Registry.EnabledIDs()
	failures := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			failures[i] = a.Connect(ctx, id, timeout)
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[string]mcp.ToolListing)
	for _, l := range a.Supervisor.ListAllTools(ctx) {
		byID[l.ServerID] = l
	}

	listings := make([]toolListing, 0, len(ids))
	for i, id := range ids {
		l := toolListing{Server: id, Tools: []mcp.Tool{}}
		switch listed, ok := byID[id]; {
		case failures[i] != nil:
			l.Error = failures[i].Error()
		case !ok:
			l.Error = "not connected"
		case listed.Err != nil:
			l.Error = listed.Err.Error()
		default:
			l.Tools = listed.Tools
		}
		listings = append(listings, l)
	}
	return listings
}

// wrapText splits text into lines of at most width characters.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	var current strings.Builder
	for _, word := range words {
		if current.Len() > 0 && current.Len()+len(word)+1 > width {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
