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
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// keychainService is the service name used for keychain entries.
const keychainService = "mcphost"

// KeychainBackend reads secrets from the system keychain.
// Supported platforms:
//   - macOS: Keychain Access
//   - Linux: Secret Service API (GNOME Keyring, KWallet)
//   - Windows: Credential Manager
type KeychainBackend struct {
	service string
}

// NewKeychainBackend creates a keychain backend using the mcphost service.
func NewKeychainBackend() *KeychainBackend {
	return &KeychainBackend{service: keychainService}
}

// Scheme returns "keyring".
func (k *KeychainBackend) Scheme() string {
	return "keyring"
}

// Get retrieves a secret from the system keychain.
func (k *KeychainBackend) Get(_ context.Context, name string) (string, error) {
	value, err := keyring.Get(k.service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		if isKeychainUnavailableError(err) {
			return "", fmt.Errorf("%w: %s", ErrBackendUnavailable, err.Error())
		}
		return "", fmt.Errorf("keychain error: %w", err)
	}
	return value, nil
}

// Set stores a secret in the system keychain.
func (k *KeychainBackend) Set(name, value string) error {
	if err := keyring.Set(k.service, name, value); err != nil {
		if isKeychainUnavailableError(err) {
			return fmt.Errorf("%w: %s", ErrBackendUnavailable, err.Error())
		}
		return fmt.Errorf("keychain error: %w", err)
	}
	return nil
}

// isKeychainUnavailableError reports whether err means the keychain is
// locked or unreachable.
func isKeychainUnavailableError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"locked",
		"cannot access",
		"permission denied",
		"failed to unlock",
		"user interaction required",
		"secret service",
		"dbus",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
