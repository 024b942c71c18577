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
package main

import (
	"context"
	"os"

	"github.com/tombee/mcphost/internal/app"
	"github.com/tombee/mcphost/internal/cli"
	"github.com/tombee/mcphost/internal/commands/shared"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	env := shared.NewEnv(app.New, os.Stderr)
	env.SetVersion(version, commit, buildDate)

	ctx := context.Background()
	err := cli.NewRootCommand(env).ExecuteContext(ctx)
	if closeErr := env.Close(ctx); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		os.Exit(shared.HandleExitError(os.Stderr, err))
	}
}
