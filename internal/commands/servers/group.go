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

// Package servers implements the commands that edit the server registry.
package servers

import (
	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
)

// NewServersCommand creates the servers command group.
func NewServersCommand(env *shared.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use: "servers",
		Annotations: map[string]string{
			"group": "registry",
		},
		Short: "Manage registered MCP servers",
		Long: `Manage the MCP servers known to mcphost.

Built-in servers ship with the bundle and can only be enabled or disabled.
User servers are stored in the settings database.

Commands:
  list      List built-in and user servers
  add       Register a user server
  remove    Remove a user server
  enable    Enable a server
  disable   Disable a server
  validate  Validate user server descriptors`,
	}

	cmd.AddCommand(newListCommand(env))
	cmd.AddCommand(newAddCommand(env))
	cmd.AddCommand(newRemoveCommand(env))
	cmd.AddCommand(newEnableCommand(env, true))
	cmd.AddCommand(newEnableCommand(env, false))
	cmd.AddCommand(newValidateCommand(env))

	return cmd
}
