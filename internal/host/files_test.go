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

package host

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteConfigFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		format  string
		wantErr string
	}{
		{name: "json", content: `{"mcpServers":{}}`, format: "json"},
		{name: "toml", content: "[mcp_servers.fs]\ncommand = \"node\"\n", format: "toml"},
		{name: "invalid json", content: `{"mcpServers":`, format: "json", wantErr: "invalid JSON"},
		{name: "invalid toml", content: "[mcp_servers\n", format: "toml", wantErr: "invalid TOML"},
		{name: "unsupported", content: "a: b", format: "yaml", wantErr: "unsupported format: yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "dir", "config."+tt.format)

			err := WriteConfigFile(path, tt.content, tt.format)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.NoFileExists(t, path)
				return
			}

			require.NoError(t, err)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(data))
		})
	}
}

func TestWriteConfigFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"old":true}`), 0o644))

	require.NoError(t, WriteConfigFile(path, `{"new":true}`, "json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var v map[string]bool
	require.NoError(t, json.Unmarshal(data, &v))
	assert.Equal(t, map[string]bool{"new": true}, v)
}
