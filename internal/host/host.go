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

// Package host defines the privileged host boundary used by the MCP layer.
//
// A Host spawns tool server processes or opens HTTP connections on behalf of
// the caller. It exposes a command-style call surface (Invoke) and emits
// per-server events (Subscribe). Local is the in-process implementation;
// hosttest provides a scriptable fake.
package host

import (
	"context"
	"encoding/json"
	"time"
)

// Host is the call and event surface of the privileged host process.
type Host interface {
	// Invoke runs a named command with JSON-encodable args and returns the
	// raw JSON result.
	Invoke(ctx context.Context, command string, args any) (json.RawMessage, error)

	// Subscribe registers handler for an event name. The returned func
	// removes the registration and is safe to call more than once.
	Subscribe(event string, handler func(payload json.RawMessage)) (unsubscribe func())
}

// Command names accepted by Invoke.
const (
	CmdStartServer       = "start_mcp_server"
	CmdStopServer        = "stop_mcp_server"
	CmdSendMessage       = "send_mcp_message"
	CmdGetServerStatuses = "get_mcp_server_statuses"
	CmdGetServerInfo     = "get_mcp_server_info"
	CmdListProcesses     = "list_mcp_processes"
	CmdKillAllProcesses  = "kill_all_mcp_processes"
	CmdGetVaultInfo      = "get_vault_info"
	CmdGetCurrentDir     = "get_current_dir"
	CmdGetBundlePath     = "get_bundle_path"
	CmdGetHomeDir        = "get_home_dir"
	CmdGetSettings       = "get_mcp_settings"
	CmdSaveSettings      = "save_mcp_settings"
	CmdWriteConfig       = "write_mcp_config"
)

// ConnectedEvent names the event emitted once a server finished its
// initialize handshake.
func ConnectedEvent(serverID string) string { return "mcp-server-connected-" + serverID }

// MessageEvent names the event carrying unsolicited server messages.
func MessageEvent(serverID string) string { return "mcp-message-" + serverID }

// StoppedEvent names the event emitted when a server process exits or is
// stopped.
func StoppedEvent(serverID string) string { return "mcp-server-stopped-" + serverID }

// Wire shapes exchanged with the host.

// ServerConfig is the host's view of a server to start.
type ServerConfig struct {
	Enabled      bool            `json:"enabled"`
	Transport    TransportConfig `json:"transport"`
	Capabilities Capabilities    `json:"capabilities"`
	Permissions  Permissions     `json:"permissions"`
}

// TransportConfig is a flat transport shape discriminated by Type.
type TransportConfig struct {
	Type       string            `json:"type"`
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Capabilities requested from a server.
type Capabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
	Sampling  bool `json:"sampling"`
}

// Permissions granted to a server.
type Permissions struct {
	Read           bool `json:"read"`
	Write          bool `json:"write"`
	Delete         bool `json:"delete"`
	ExternalAccess bool `json:"external_access"`
}

// StartServerArgs are the args of CmdStartServer.
type StartServerArgs struct {
	ServerID string       `json:"serverId"`
	Config   ServerConfig `json:"config"`
}

// ServerArgs are the args of commands addressing one server.
type ServerArgs struct {
	ServerID string `json:"serverId"`
}

// SendMessageArgs are the args of CmdSendMessage. Message is an encoded
// JSON-RPC request; the result is the encoded response as a JSON string.
type SendMessageArgs struct {
	ServerID string `json:"serverId"`
	Message  string `json:"message"`
}

// WriteConfigArgs are the args of CmdWriteConfig.
type WriteConfigArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Format  string `json:"format"`
}

// SaveSettingsArgs are the args of CmdSaveSettings.
type SaveSettingsArgs struct {
	Settings Settings `json:"settings"`
}

// Settings is the persisted MCP settings blob.
type Settings struct {
	Enabled  bool                      `json:"enabled"`
	Servers  map[string]SettingsServer `json:"servers"`
	Registry json.RawMessage           `json:"mcpServerRegistry,omitempty"`
}

// SettingsServer is one server entry of the settings blob.
type SettingsServer struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Enabled      bool            `json:"enabled"`
	Transport    TransportConfig `json:"transport"`
	Capabilities Capabilities    `json:"capabilities"`
	Permissions  Permissions     `json:"permissions"`
}

// StripWorkingDirs clears working_dir from every stdio transport. The
// working directory is bound at connect time from the current root and is
// never persisted.
func (s *Settings) StripWorkingDirs() []string {
	var stripped []string
	for id, srv := range s.Servers {
		if srv.Transport.Type == "stdio" && srv.Transport.WorkingDir != "" {
			srv.Transport.WorkingDir = ""
			s.Servers[id] = srv
			stripped = append(stripped, id)
		}
	}
	return stripped
}

// ServerStatus is one entry of the CmdGetServerStatuses result.
type ServerStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Host-side status values.
const (
	StatusStarting     = "starting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusStopped      = "stopped"
	StatusError        = "error"
)

// ServerInfo is the CmdGetServerInfo result.
type ServerInfo struct {
	ID            string          `json:"id"`
	Status        ServerStatus    `json:"status"`
	Capabilities  json.RawMessage `json:"capabilities,omitempty"`
	TransportType string          `json:"transport_type"`
}

// ProcessInfo is one entry of the CmdListProcesses result.
type ProcessInfo struct {
	InstanceID string    `json:"instance_id"`
	ServerID   string    `json:"server_id"`
	PID        int       `json:"pid,omitempty"`
	Command    string    `json:"command,omitempty"`
	URL        string    `json:"url,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// KillAllResult is the CmdKillAllProcesses result.
type KillAllResult struct {
	Killed int `json:"killed"`
}

// VaultInfo is the CmdGetVaultInfo result. A null result means no vault is
// open.
type VaultInfo struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// ConnectedPayload is the payload of ConnectedEvent.
type ConnectedPayload struct {
	ServerID     string          `json:"server_id"`
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
}

// MessagePayload is the payload of MessageEvent.
type MessagePayload struct {
	ServerID string          `json:"server_id"`
	Message  json.RawMessage `json:"message"`
}

// StoppedPayload is the payload of StoppedEvent.
type StoppedPayload struct {
	ServerID string `json:"server_id"`
}
