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
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/app"
	"github.com/tombee/mcphost/internal/commands/completion"
	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

func newConnectCommand(env *shared.Env) *cobra.Command {
	var (
		timeout time.Duration
		follow  bool
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "connect <id>",
		Short: "Connect to a server and list its tools",
		Long: `Start a server, complete the MCP handshake and list its tools.

With --follow the session stays open until interrupted and status changes
and server notifications are printed as they arrive. --watch additionally
reconnects the server whenever its sources change; it is implied when
watch.enabled is set in the configuration.`,
		Example: `  # Check that the filesystem server starts
  mcphost connect filesystem

  # Stay attached and restart on source changes
  mcphost connect tasks --follow --watch`,
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

			tools, err := a.Supervisor.ListTools(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if env.Flags.JSON && !follow {
				return shared.EmitJSON(out, struct {
					shared.JSONResponse
					Server string               `json:"server"`
					Status mcp.ConnectionStatus `json:"status"`
					Tools  []mcp.Tool           `json:"tools"`
				}{shared.NewJSONResponse("connect"), id, a.Supervisor.Status(id), tools})
			}

			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Connected to %s", shared.Bold.Render(id))))
			printTools(out, id, tools)

			if !follow {
				return nil
			}
			return followSession(cmd.Context(), cmd, a, id, watch || a.Config.Watch.Enabled)
		},
	}

	addTimeoutFlag(cmd, &timeout)
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stay connected and print status changes and notifications")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reconnect when the server's sources change (requires --follow)")

	return cmd
}

// followSession prints status events and notifications for id until ctx is
// cancelled or an interrupt arrives.
func followSession(ctx context.Context, cmd *cobra.Command, a *app.App, id string, watch bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	lines := make(chan string, 64)
	send := func(line string) {
		select {
		case lines <- line:
		default:
		}
	}

	formatter := mcp.NewDebugFormatter(mcp.DebugFormatterConfig{Writer: &lineWriter{send: send}, ServerID: id})
	a.OnMessage(func(serverID string, entry mcp.MessageEntry) {
		if serverID == id {
			_ = formatter.FormatEntry(entry)
		}
	})
	defer a.OnMessage(nil)
	for _, entry := range a.Supervisor.Messages(id, 0) {
		_ = formatter.FormatEntry(entry)
	}

	unsubscribe := a.Supervisor.Subscribe(func(ev mcp.StatusEvent) {
		if ev.ServerID != id {
			return
		}
		line := fmt.Sprintf("%s %s %s", shared.RenderLabel(ev.Timestamp.Format("15:04:05")), id, shared.RenderConnectionStatus(ev.Status))
		if ev.Message != "" {
			line += " " + shared.Muted.Render(ev.Message)
		}
		send(line + "\n")
	})
	defer unsubscribe()

	if watch {
		w, err := a.NewWatcher()
		if err != nil {
			return err
		}
		defer w.Close()

		d, _ := a.Supervisor.Descriptor(id)
		dirs := mcp.SourceDirs(d)
		if len(dirs) == 0 {
			fmt.Fprintln(out, shared.RenderWarn("No source directories to watch for "+id))
		} else if err := w.Watch(id, dirs); err != nil {
			return err
		} else {
			for _, dir := range dirs {
				fmt.Fprintln(out, shared.RenderLabel("  watching "+dir))
			}
		}
	}

	fmt.Fprintln(out, shared.Muted.Render("Following "+id+"; press Ctrl+C to stop"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			fmt.Fprint(out, line)
		}
	}
}

// lineWriter hands each Write to send as one string.
type lineWriter struct {
	send func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.send(string(p))
	return len(p), nil
}

var _ io.Writer = (*lineWriter)(nil)

func printTools(out io.Writer, id string, tools []mcp.Tool) {
	if len(tools) == 0 {
		fmt.Fprintln(out, "No tools available from this server.")
		return
	}

	fmt.Fprintf(out, "\nTools from %s:\n\n", id)
	for _, t := range tools {
		fmt.Fprintf(out, "  %s.%s\n", id, t.Name)
		if t.Description != "" {
			for _, line := range wrapText(t.Description, 60) {
				fmt.Fprintf(out, "    %s\n", line)
			}
		}
		fmt.Fprintln(out)
	}
}
