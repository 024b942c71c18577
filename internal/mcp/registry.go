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
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sync"
)

// Path variables substituted into descriptors.
const (
	VarVaultPath  = "VAULT_PATH"
	VarBundlePath = "BUNDLE_PATH"
)

var varRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// PathVars returns the substitution map for a root and bundle path.
func PathVars(rootPath, bundlePath string) map[string]string {
	return map[string]string{
		VarVaultPath:  rootPath,
		VarBundlePath: bundlePath,
	}
}

// Registry holds user-defined descriptors and the set of enabled server ids.
// Built-in descriptors are not stored; only whether they are enabled.
// A Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	userServers map[string]ServerDescriptor
	enabled     map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		userServers: make(map[string]ServerDescriptor),
		enabled:     make(map[string]struct{}),
	}
}

// AddUserServer stores a copy of d under id. It fails with ErrDuplicateName
// when id is already present, or with an invalid descriptor error when the
// transport does not have exactly one shape. The registry is unchanged on
// failure.
func (r *Registry) AddUserServer(id string, d ServerDescriptor) error {
	if err := checkTransportShape(id, d.Transport); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.userServers[id]; exists {
		return DuplicateNameError(id)
	}
	r.userServers[id] = normalizeUser(id, d.Clone())
	return nil
}

func checkTransportShape(id string, t Transport) error {
	switch {
	case t.Stdio != nil && t.HTTP != nil:
		return ErrInvalidDescriptor(fmt.Sprintf("Transport for %s has both stdio and http shapes", id))
	case t.Kind() == "":
		return ErrInvalidDescriptor(fmt.Sprintf("Invalid server type for %s: missing transport", id))
	}
	return nil
}

// normalizeUser gives d the form it has after a save and load: the id
// matches its key, it is not a built-in and stdio args are never nil.
func normalizeUser(id string, d ServerDescriptor) ServerDescriptor {
	d.ID = id
	d.Builtin = false
	if s := d.Transport.Stdio; s != nil && s.Args == nil {
		s.Args = []string{}
	}
	return d
}

// RemoveUserServer deletes a user server and its enabled flag. Built-in and
// unknown ids are left alone.
func (r *Registry) RemoveUserServer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.userServers[id]; !exists {
		return
	}
	delete(r.userServers, id)
	delete(r.enabled, id)
}

// SetServerEnabled adds id to or removes it from the enabled set. The id
// does not have to resolve to a descriptor.
func (r *Registry) SetServerEnabled(id string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enabled {
		r.enabled[id] = struct{}{}
	} else {
		delete(r.enabled, id)
	}
}

// IsEnabled reports whether id is in the enabled set.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.enabled[id]
	return ok
}

// EnabledIDs returns the enabled set, sorted.
func (r *Registry) EnabledIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.enabled))
}

// UserServer returns a copy of the user descriptor for id.
func (r *Registry) UserServer(id string) (ServerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.userServers[id]
	if !ok {
		return ServerDescriptor{}, false
	}
	return d.Clone(), true
}

// UserServers returns copies of every user descriptor, sorted by id.
func (r *Registry) UserServers() []ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerDescriptor, 0, len(r.userServers))
	for _, id := range slices.Sorted(maps.Keys(r.userServers)) {
		out = append(out, r.userServers[id].Clone())
	}
	return out
}

// GetEnabledServers returns copies of the enabled user descriptors, sorted
// by id. Built-ins are never included.
func (r *Registry) GetEnabledServers() []ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ServerDescriptor
	for _, id := range slices.Sorted(maps.Keys(r.userServers)) {
		if _, ok := r.enabled[id]; ok {
			out = append(out, r.userServers[id].Clone())
		}
	}
	return out
}

// registryJSON is the persisted shape. Built-ins are never serialized.
type registryJSON struct {
	UserServers    map[string]ServerDescriptor `json:"userServers"`
	EnabledServers []string                    `json:"enabledServers"`
}

// MarshalJSON encodes the user servers and the enabled set.
func (r *Registry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return json.Marshal(registryJSON{
		UserServers:    r.userServers,
		EnabledServers: slices.Sorted(maps.Keys(r.enabled)),
	})
}

// UnmarshalJSON replaces the registry contents.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var in registryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	users := make(map[string]ServerDescriptor, len(in.UserServers))
	for id, d := range in.UserServers {
		users[id] = normalizeUser(id, d)
	}
	enabled := make(map[string]struct{}, len(in.EnabledServers))
	for _, id := range in.EnabledServers {
		enabled[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.userServers = users
	r.enabled = enabled
	return nil
}

// Expand returns a deep copy of d with ${KEY} placeholders replaced from
// vars in the command, each argument, each env value and the working
// directory. Unknown placeholders are kept verbatim. d is not modified.
func Expand(d ServerDescriptor, vars map[string]string) ServerDescriptor {
	out := d.Clone()
	if s := out.Transport.Stdio; s != nil {
		s.Command = expandString(s.Command, vars)
		for i, arg := range s.Args {
			s.Args[i] = expandString(arg, vars)
		}
		for k, v := range s.Env {
			s.Env[k] = expandString(v, vars)
		}
		s.WorkingDir = expandString(s.WorkingDir, vars)
	}
	return out
}

func expandString(s string, vars map[string]string) string {
	return varRegex.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := vars[m[2:len(m)-1]]; ok {
			return v
		}
		return m
	})
}
