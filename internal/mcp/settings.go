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

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tombee/mcphost/internal/host"
)

// Settings is the decoded settings blob.
type Settings struct {
	Enabled  bool
	Registry *Registry
}

type settingsServer struct {
	ServerDescriptor
	Enabled bool `json:"enabled"`
}

type settingsBlob struct {
	Enabled  bool                      `json:"enabled"`
	Servers  map[string]settingsServer `json:"servers"`
	Registry json.RawMessage           `json:"mcpServerRegistry,omitempty"`
}

// LoadSettings reads the settings blob from the host and rebuilds the
// registry from it. A blob without a registry yields an empty one.
func LoadSettings(ctx context.Context, h host.Host) (*Settings, error) {
	raw, err := h.Invoke(ctx, host.CmdGetSettings, nil)
	if err != nil {
		return nil, HostCallError(host.CmdGetSettings, err)
	}

	var blob struct {
		Enabled  *bool           `json:"enabled"`
		Registry json.RawMessage `json:"mcpServerRegistry"`
	}
	if err := decodeResult(raw, &blob); err != nil {
		return nil, newProtocolError("malformed settings", err)
	}

	s := &Settings{Enabled: true, Registry: NewRegistry()}
	if blob.Enabled != nil {
		s.Enabled = *blob.Enabled
	}
	if len(blob.Registry) > 0 && string(blob.Registry) != "null" {
		if err := s.Registry.UnmarshalJSON(blob.Registry); err != nil {
			return nil, newProtocolError("malformed server registry", err)
		}
	}
	return s, nil
}

// SaveSettings writes the registry to the host settings blob. The servers
// map mirrors the user servers with their enabled flag.
func SaveSettings(ctx context.Context, h host.Host, s *Settings) error {
	reg, err := s.Registry.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	blob := settingsBlob{
		Enabled:  s.Enabled,
		Servers:  make(map[string]settingsServer),
		Registry: reg,
	}
	for _, d := range s.Registry.UserServers() {
		blob.Servers[d.ID] = settingsServer{ServerDescriptor: d, Enabled: s.Registry.IsEnabled(d.ID)}
	}

	if _, err := h.Invoke(ctx, host.CmdSaveSettings, map[string]any{"settings": blob}); err != nil {
		return HostCallError(host.CmdSaveSettings, err)
	}
	return nil
}
