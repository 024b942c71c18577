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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer[int](3)
	assert.Empty(t, rb.GetAll())

	for i := 1; i <= 5; i++ {
		rb.Add(i)
	}
	assert.Equal(t, 3, rb.Count())
	assert.Equal(t, []int{3, 4, 5}, rb.GetAll())
	assert.Equal(t, []int{4, 5}, rb.GetLast(2))
	assert.Equal(t, []int{3, 4, 5}, rb.GetLast(10))
	assert.Empty(t, rb.GetLast(0))

	rb.Clear()
	assert.Zero(t, rb.Count())
	rb.Add(9)
	assert.Equal(t, []int{9}, rb.GetAll())
}

func TestMessageLog(t *testing.T) {
	ml := NewMessageLog(2)
	assert.Nil(t, ml.Get("x", 0))

	ml.Add("x", json.RawMessage(`{"jsonrpc":"2.0","method":"notifications/progress"}`))
	ml.Add("x", json.RawMessage(`garbage`))
	ml.Add("y", json.RawMessage(`{"method":"notifications/message"}`))

	x := ml.Get("x", 0)
	require.Len(t, x, 2)
	assert.Equal(t, "notifications/progress", x[0].Method)
	assert.Empty(t, x[1].Method)
	assert.Equal(t, "garbage", string(x[1].Message))
	assert.False(t, x[0].Timestamp.IsZero())

	assert.Len(t, ml.Get("x", 1), 1)
	assert.Len(t, ml.Get("y", 0), 1)

	ml.Remove("x")
	assert.Nil(t, ml.Get("x", 0))
}

func TestMessageLog_CopiesInput(t *testing.T) {
	ml := NewMessageLog(0)
	raw := json.RawMessage(`{"method":"a"}`)
	ml.Add("x", raw)
	raw[11] = 'b'
	assert.Equal(t, `{"method":"a"}`, string(ml.Get("x", 0)[0].Message))
}
