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

package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Resolver routes credential references to backends by scheme.
type Resolver struct {
	backends map[string]Backend
}

// NewResolver creates a resolver over the given backends.
func NewResolver(backends ...Backend) *Resolver {
	r := &Resolver{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Scheme()] = b
	}
	return r
}

// NewDefaultResolver returns a resolver over the keychain and environment.
func NewDefaultResolver() *Resolver {
	return NewResolver(NewKeychainBackend(), EnvBackend{})
}

// IsReference reports whether value names a backend scheme known to r.
func (r *Resolver) IsReference(value string) bool {
	scheme, _, ok := strings.Cut(value, ":")
	if !ok {
		return false
	}
	_, known := r.backends[scheme]
	return known
}

// Resolve returns the secret for a reference, or value unchanged when it is
// a literal.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	scheme, name, ok := strings.Cut(value, ":")
	if !ok {
		return value, nil
	}
	backend, known := r.backends[scheme]
	if !known {
		// Literal tokens may contain colons.
		return value, nil
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty name in %q", ErrSecretNotFound, scheme)
	}

	secret, err := backend.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s secret %q: %w", scheme, name, err)
	}
	return secret, nil
}
