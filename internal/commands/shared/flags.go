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

package shared

import (
	"context"
	"io"
	"sync"

	"github.com/tombee/mcphost/internal/app"
)

// Factory builds the dependency set from options.
type Factory func(ctx context.Context, opts app.Options) (*app.App, error)

// Flags holds the persistent flags shared by every command.
type Flags struct {
	Verbose    bool
	JSON       bool
	Trace      bool
	ConfigPath string
}

// Env is handed to every command constructor. The dependency set is built
// on first use and closed by the root command once the command returns.
type Env struct {
	Flags Flags

	Version   string
	Commit    string
	BuildDate string

	factory Factory
	stderr  io.Writer

	mu  sync.Mutex
	app *app.App
}

// NewEnv creates an Env. Logs and trace output go to stderr.
func NewEnv(factory Factory, stderr io.Writer) *Env {
	if factory == nil {
		factory = app.New
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Env{Version: "dev", Commit: "unknown", BuildDate: "unknown", factory: factory, stderr: stderr}
}

// SetVersion records the build metadata.
func (e *Env) SetVersion(v, c, b string) {
	e.Version, e.Commit, e.BuildDate = v, c, b
}

// App returns the dependency set, building it on the first call.
func (e *Env) App(ctx context.Context) (*app.App, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.app != nil {
		return e.app, nil
	}

	opts := app.Options{
		ConfigPath: e.Flags.ConfigPath,
		Verbose:    e.Flags.Verbose,
		LogOutput:  e.stderr,
		Version:    e.Version,
	}
	if e.Flags.Trace {
		opts.TraceWriter = e.stderr
	}

	a, err := e.factory(ctx, opts)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

// Close releases the dependency set if one was built.
func (e *Env) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.app == nil {
		return nil
	}
	err := e.app.Close(ctx)
	e.app = nil
	return err
}
