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

// Package secrets resolves credential references used by remote tool servers.
//
// A bearer credential on an HTTP transport may be a literal token or a
// reference of the form "<scheme>:<name>". Supported schemes are "keyring"
// (system keychain) and "env" (process environment).
package secrets

import (
	"context"
	"errors"
)

var (
	// ErrSecretNotFound is returned when a referenced secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when a backend cannot be reached.
	ErrBackendUnavailable = errors.New("secret backend unavailable")

	// ErrUnknownScheme is returned for references naming no known backend.
	ErrUnknownScheme = errors.New("unknown secret scheme")
)

// Backend reads secrets from one storage system.
type Backend interface {
	// Scheme is the reference prefix routed to this backend.
	Scheme() string

	Get(ctx context.Context, name string) (string, error)
}
