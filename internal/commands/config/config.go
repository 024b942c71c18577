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

// Package config implements the config command group.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/config"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand(env *shared.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate agent configs and inspect mcphost configuration",
		Long: `Generate MCP configuration for coding agents and inspect the
mcphost configuration.

Subcommands:
  generate - Render the MCP config for claude, gemini or codex
  show     - Display the effective mcphost configuration
  path     - Show config file location`,
	}

	cmd.AddCommand(newGenerateCommand(env))
	cmd.AddCommand(newShowCommand(env))
	cmd.AddCommand(newPathCommand(env))

	return cmd
}

func newShowCommand(env *shared.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults and environment overrides
are applied. Use --json for machine-readable output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if env.Flags.JSON {
				return shared.EmitJSON(out, a.Config)
			}

			path, err := configPath(env)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Configuration: %s\n", path)
			fmt.Fprintln(out, strings.Repeat("=", 50))
			fmt.Fprintln(out)

			encoder := yaml.NewEncoder(out)
			encoder.SetIndent(2)
			if err := encoder.Encode(a.Config); err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			return encoder.Close()
		},
	}
}

func newPathCommand(env *shared.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(env)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func configPath(env *shared.Env) (string, error) {
	if env.Flags.ConfigPath != "" {
		return env.Flags.ConfigPath, nil
	}
	path, err := config.ConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to determine config path: %w", err)
	}
	return path, nil
}
