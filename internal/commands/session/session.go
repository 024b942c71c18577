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

// Package session implements the commands that open sessions to tool
// servers: connect, tools, call, resources, read and restart.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/app"
	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

// DefaultConnectTimeout bounds the wait for a server to become ready.
const DefaultConnectTimeout = 30 * time.Second

// NewCommands returns the session commands.
func NewCommands(env *shared.Env) []*cobra.Command {
	return []*cobra.Command{
		newConnectCommand(env),
		newToolsCommand(env),
		newCallCommand(env),
		newResourcesCommand(env),
		newReadCommand(env),
		newRestartCommand(env),
	}
}

// connect opens a session to id, showing a spinner on stderr while the
// server starts.
func connect(ctx context.Context, cmd *cobra.Command, a *app.App, id string, timeout time.Duration) error {
	spinner := shared.NewSpinner(cmd.ErrOrStderr())
	spinner.Start(fmt.Sprintf("Connecting to %s", id))
	unsubscribe := a.Supervisor.Subscribe(func(ev mcp.StatusEvent) {
		if ev.ServerID == id {
			spinner.SetStatus(ev.Status)
		}
	})
	err := a.Connect(ctx, id, timeout)
	unsubscribe()
	spinner.Stop()
	return err
}

func addTimeoutFlag(cmd *cobra.Command, timeout *time.Duration) {
	cmd.Flags().DurationVar(timeout, "timeout", DefaultConnectTimeout, "How long to wait for the server to become ready")
}
