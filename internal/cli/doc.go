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
/*
Package cli assembles the mcphost command tree.

NewRootCommand attaches the persistent flags and every command group to a
single root. Commands receive a shared.Env, which builds the dependency set
on first use, so one process opens the settings store and the host exactly
once.

# Command Tree

	mcphost
	├── servers      list, add, remove, enable, disable, validate
	├── config       generate, show, path
	├── connect      Connect to a server and list its tools
	├── tools        List tools across servers
	├── call         Call a tool
	├── resources    List resources
	├── read         Read a resource
	├── restart      Restart every running server
	├── metrics      Print process metrics
	├── completion   Shell completion scripts
	├── version      Show version
	└── help         Show help

# Usage

From main.go:

	env := shared.NewEnv(app.New, os.Stderr)
	env.SetVersion(version, commit, buildDate)
	root := cli.NewRootCommand(env)
	err := root.ExecuteContext(ctx)
	_ = env.Close(ctx)
	os.Exit(shared.HandleExitError(os.Stderr, err))

# Global Flags

	--verbose, -v    Enable debug logging
	--json           Output in JSON format
	--config         Path to config file
	--trace          Write trace spans to stderr
*/
package cli
