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

package settings

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "settings.db")})
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	mem, err := NewSQLiteStore(SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	return map[string]Store{
		"memory":        NewMemoryStore(),
		"sqlite-file":   sqlite,
		"sqlite-memory": mem,
	}
}

func TestStore_GetSet(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "mcp")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Set(ctx, "mcp", json.RawMessage(`{"enabled":true}`)))
			got, err := store.Get(ctx, "mcp")
			require.NoError(t, err)
			assert.JSONEq(t, `{"enabled":true}`, string(got))

			require.NoError(t, store.Set(ctx, "mcp", json.RawMessage(`{"enabled":false}`)))
			got, err = store.Get(ctx, "mcp")
			require.NoError(t, err)
			assert.JSONEq(t, `{"enabled":false}`, string(got))
		})
	}
}

func TestStore_RejectsInvalidJSON(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Set(ctx, "mcp", json.RawMessage(`{nope`))
			require.Error(t, err)

			_, err = store.Get(ctx, "mcp")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "settings.db")

	s, err := NewSQLiteStore(SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "mcp", json.RawMessage(`{"servers":{}}`)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "mcp")
	require.NoError(t, err)
	assert.JSONEq(t, `{"servers":{}}`, string(got))
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Set(ctx, "k", json.RawMessage(`1`))
			_, _ = store.Get(ctx, "k")
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(SQLiteConfig{})
	assert.Error(t, err)
}
