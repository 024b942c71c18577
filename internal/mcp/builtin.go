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

import "strings"

// BuiltinMarker identifies built-in servers that read the root from their
// working directory instead of the VAULT_PATH environment entry.
const BuiltinMarker = "filesystem"

// builtinCatalogue lists the servers shipped in the bundle. Paths are
// templates over VAULT_PATH and BUNDLE_PATH.
var builtinCatalogue = []ServerDescriptor{
	{
		ID:          "filesystem",
		Name:        "Filesystem",
		Description: "Read, write and search files in the vault",
		Transport: Transport{Stdio: &StdioTransport{
			Command:    "${BUNDLE_PATH}/mcp-servers/filesystem-server",
			Args:       []string{},
			Env:        map[string]string{VarVaultPath: "${VAULT_PATH}"},
			WorkingDir: "${VAULT_PATH}",
		}},
		Capabilities: Capabilities{Tools: true, Resources: true},
		Permissions:  Permissions{Read: true, Write: true, Delete: true},
	},
	{
		ID:          "search",
		Name:        "Search",
		Description: "Full-text search across vault notes",
		Transport: Transport{Stdio: &StdioTransport{
			Command:    "${BUNDLE_PATH}/mcp-servers/search-server",
			Args:       []string{"--vault", "${VAULT_PATH}"},
			Env:        map[string]string{VarVaultPath: "${VAULT_PATH}"},
			WorkingDir: "${VAULT_PATH}",
		}},
		Capabilities: Capabilities{Tools: true},
		Permissions:  Permissions{Read: true},
	},
	{
		ID:          "git",
		Name:        "Git",
		Description: "History and versioning for the vault repository",
		Transport: Transport{Stdio: &StdioTransport{
			Command:    "${BUNDLE_PATH}/mcp-servers/git-server",
			Args:       []string{},
			Env:        map[string]string{VarVaultPath: "${VAULT_PATH}"},
			WorkingDir: "${VAULT_PATH}",
		}},
		Capabilities: Capabilities{Tools: true},
		Permissions:  Permissions{Read: true, Write: true},
	},
	{
		ID:          "knowledge",
		Name:        "Knowledge",
		Description: "Semantic lookup over vault notes",
		Transport: Transport{Stdio: &StdioTransport{
			Command: "python3",
			Args:    []string{"${BUNDLE_PATH}/mcp-servers/mcp-knowledge/server.py"},
			Env: map[string]string{
				VarVaultPath:       "${VAULT_PATH}",
				"PYTHONUNBUFFERED": "1",
			},
			WorkingDir: "${VAULT_PATH}",
		}},
		Capabilities: Capabilities{Tools: true, Resources: true},
		Permissions:  Permissions{Read: true},
	},
}

// BuiltinCatalogue returns unexpanded copies of the built-in descriptors.
func BuiltinCatalogue() []ServerDescriptor {
	out := make([]ServerDescriptor, len(builtinCatalogue))
	for i, d := range builtinCatalogue {
		out[i] = d.Clone()
		out[i].Builtin = true
	}
	return out
}

// BuiltinServers returns the built-in catalogue expanded for a root and
// bundle path, keyed by id.
func BuiltinServers(rootPath, bundlePath string) map[string]ServerDescriptor {
	vars := PathVars(rootPath, bundlePath)
	out := make(map[string]ServerDescriptor, len(builtinCatalogue))
	for _, d := range BuiltinCatalogue() {
		out[d.ID] = Expand(d, vars)
	}
	return out
}

// IsBuiltinID reports whether id names a catalogue entry.
func IsBuiltinID(id string) bool {
	for _, d := range builtinCatalogue {
		if d.ID == id {
			return true
		}
	}
	return false
}

// usesWorkingDirRoot reports whether a server takes its root from the
// working directory alone.
func usesWorkingDirRoot(id string) bool {
	return strings.Contains(id, BuiltinMarker)
}
