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

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinitylabs/trinity/pkg/config"
)

func testLoad(t *testing.T) *Registry {
	t.Helper()
	schemas := &config.SchemasConfig{Tools: map[string]*config.ToolSchemaConfig{
		"execute_command": {Server: "macos-use", Required: []string{"command"}, Optional: []string{"timeout"}},
		"read_file":       {Server: "macos-use", Required: []string{"path"}},
		"search":          {Server: "duckduckgo-search", Required: []string{"query"}},
		"bash":            {AliasFor: "execute_command"},
		"dangling_alias":  {AliasFor: "no_such_tool"},
	}}
	servers := &config.ServersConfig{Servers: map[string]*config.ServerConfig{
		"macos-use":         {Tier: 1, Description: "OS automation", KeyTools: []string{"execute_command"}},
		"duckduckgo-search": {Tier: 2, Description: "Web search"},
		"legacy":            {Tier: 4, Description: "Old server", Disabled: true},
	}}
	r, err := Load(schemas, servers)
	require.NoError(t, err)
	return r
}

func TestGetToolSchema_AliasResolution(t *testing.T) {
	r := testLoad(t)

	ts := r.GetToolSchema("bash")
	require.NotNil(t, ts)
	assert.Equal(t, "execute_command", ts.Name)
	assert.Equal(t, "macos-use", ts.Server)

	assert.Nil(t, r.GetToolSchema("dangling_alias"))
	assert.Nil(t, r.GetToolSchema("unknown"))
}

func TestGetServerForTool_Caches(t *testing.T) {
	r := testLoad(t)

	server, ok := r.GetServerForTool("search")
	require.True(t, ok)
	assert.Equal(t, "duckduckgo-search", server)

	_, _ = r.GetServerForTool("search")
	hits, misses := r.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	_, ok = r.GetServerForTool("nope")
	assert.False(t, ok)
}

func TestValidateToolCall(t *testing.T) {
	r := testLoad(t)

	ok, err := r.ValidateToolCall("execute_command", map[string]any{"command": "ls"})
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, err = r.ValidateToolCall("execute_command", map[string]any{"timeout": 5})
	assert.False(t, ok)
	assert.ErrorContains(t, err, "command")

	// nil values count as missing
	ok, _ = r.ValidateToolCall("read_file", map[string]any{"path": nil})
	assert.False(t, ok)

	// unknown tools validate; the dispatcher rejects them
	ok, err = r.ValidateToolCall("mystery", nil)
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestToolNamesForServer(t *testing.T) {
	r := testLoad(t)

	names := r.ToolNamesForServer("macos-use")
	// The alias resolves to macos-use and is listed alongside the target.
	assert.Equal(t, []string{"bash", "execute_command", "read_file"}, names)

	assert.Empty(t, r.ToolNamesForServer("legacy"))
}

func TestCatalogForPrompt(t *testing.T) {
	r := testLoad(t)

	rendered := r.CatalogForPrompt(true)
	assert.Contains(t, rendered, "## Tier 1")
	assert.Contains(t, rendered, "macos-use [ACTIVE]")
	assert.Contains(t, rendered, "legacy [INACTIVE]")
	assert.Contains(t, rendered, "key tools: execute_command")

	withoutTools := r.CatalogForPrompt(false)
	assert.NotContains(t, withoutTools, "key tools")
}

func TestServerAndToolNamesSorted(t *testing.T) {
	r := testLoad(t)
	assert.Equal(t, []string{"duckduckgo-search", "legacy", "macos-use"}, r.ServerNames())
	assert.Equal(t, []string{"bash", "dangling_alias", "execute_command", "read_file", "search"}, r.ToolNames())
}
