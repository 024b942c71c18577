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
Package mcp manages Model Context Protocol tool servers on behalf of a
desktop host and exports their configuration to coding agents.

# Overview

The package consists of several components:

  - Registry: user-defined servers plus the enabled set of built-ins
  - Session: JSON-RPC request/response correlation over the host boundary
  - Supervisor: connection lifecycle and status events per server
  - Generator: agent config files for claude, gemini and codex
  - Reconciler: restarts built-in servers against the current vault root
  - Watcher: restarts servers whose source files change

The host process owns the real child processes. Everything in this package
talks to it through host.Host, which makes the package testable with
hosttest.FakeHost or an in-process host.Local.

# Connecting

	sup := mcp.NewSupervisor(mcp.SupervisorConfig{Host: h, Logger: logger})
	defer sup.Close()

	if err := sup.Connect(ctx, "filesystem", desc); err != nil {
	    return err
	}
	tools, err := sup.ListTools(ctx, "filesystem")

Connect returns once the host has started the server. A status event with
StatusConnected follows when the host reports the handshake complete.

# Server States

Servers move through these states:

  - disconnected: not running
  - connecting: start requested
  - connected: handshake complete, requests accepted
  - error: start failed or the server exited abnormally

# Agent Configuration

	gen := mcp.NewGenerator(mcp.GeneratorConfig{Registry: reg, Host: h})
	out, err := gen.Generate(ctx, mcp.AgentClaude, root, bundle)

Claude reads <root>/.mcp.json. Gemini and Codex read files in the home
directory (~/.gemini/settings.json and ~/.codex/config.toml).
*/
package mcp
