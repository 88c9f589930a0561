// Copyright 2025 Trinity Labs
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

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()

	require.NoError(t, r.Register("one", 1))
	require.NoError(t, r.Register("two", 2))

	v, ok := r.Get("one")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("three")
	assert.False(t, ok)
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewBaseRegistry[string]()

	require.NoError(t, r.Register("a", "x"))
	assert.ErrorContains(t, r.Register("a", "y"), "already registered")
	assert.ErrorContains(t, r.Register("", "x"), "empty")
}

func TestPut_Replaces(t *testing.T) {
	r := NewBaseRegistry[string]()

	require.NoError(t, r.Put("a", "x"))
	require.NoError(t, r.Put("a", "y"))

	v, _ := r.Get("a")
	assert.Equal(t, "y", v)
}

func TestNamesSorted(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("zeta", 1))
	require.NoError(t, r.Register("alpha", 2))
	require.NoError(t, r.Register("mid", 3))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
	assert.Equal(t, 3, r.Count())
	assert.Len(t, r.List(), 3)
}

func TestRemoveAndClear(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))

	require.NoError(t, r.Remove("a"))
	assert.ErrorContains(t, r.Remove("a"), "not found")

	require.NoError(t, r.Register("b", 2))
	r.Clear()
	assert.Zero(t, r.Count())
}
