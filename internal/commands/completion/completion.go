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

package completion

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

// SafeCompletionWrapper runs fn and turns a panic into an empty result.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}

// ServerIDs completes the first argument with every known server id.
func ServerIDs(env *shared.Env) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, _ string) ([]cobra.Completion, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
			a, err := env.App(cmd.Context())
			if err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			var ids []string
			for _, d := range mcp.BuiltinCatalogue() {
				ids = append(ids, d.ID)
			}
			for _, d := range a.Registry.UserServers() {
				if !slices.Contains(ids, d.ID) {
					ids = append(ids, d.ID)
				}
			}
			slices.Sort(ids)
			return ids, cobra.ShellCompDirectiveNoFileComp
		})
	}
}

// Agents completes the --agent flag.
func Agents(*cobra.Command, []string, string) ([]cobra.Completion, cobra.ShellCompDirective) {
	return []string{"auto", string(mcp.AgentClaude), string(mcp.AgentGemini), string(mcp.AgentCodex)}, cobra.ShellCompDirectiveNoFileComp
}
