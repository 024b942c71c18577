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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestResolver_Resolve(t *testing.T) {
	keyring.MockInit()
	kc := NewKeychainBackend()
	require.NoError(t, kc.Set("docs-token", "kc-secret"))
	t.Setenv("DOCS_TOKEN", "env-secret")

	r := NewResolver(kc, EnvBackend{})
	ctx := context.Background()

	tests := []struct {
		name    string
		value   string
		want    string
		wantErr error
	}{
		{name: "literal", value: "plain-token", want: "plain-token"},
		{name: "literal with unknown scheme", value: "abc:def", want: "abc:def"},
		{name: "keyring", value: "keyring:docs-token", want: "kc-secret"},
		{name: "env", value: "env:DOCS_TOKEN", want: "env-secret"},
		{name: "missing keyring entry", value: "keyring:absent", wantErr: ErrSecretNotFound},
		{name: "missing env", value: "env:MCPHOST_NOT_SET_ANYWHERE", wantErr: ErrSecretNotFound},
		{name: "empty name", value: "env:", wantErr: ErrSecretNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_IsReference(t *testing.T) {
	r := NewDefaultResolver()

	assert.True(t, r.IsReference("keyring:x"))
	assert.True(t, r.IsReference("env:X"))
	assert.False(t, r.IsReference("token"))
	assert.False(t, r.IsReference("vault:x"))
}

func TestIsKeychainUnavailableError(t *testing.T) {
	assert.True(t, isKeychainUnavailableError(errors.New("The keychain is Locked")))
	assert.False(t, isKeychainUnavailableError(assert.AnError))
	assert.False(t, isKeychainUnavailableError(keyring.ErrNotFound))
}
