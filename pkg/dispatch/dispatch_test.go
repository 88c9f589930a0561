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

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/schema"
	"github.com/trinitylabs/trinity/pkg/sharedctx"
	"github.com/trinitylabs/trinity/pkg/toolserver"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	servers := &config.ServersConfig{Servers: map[string]*config.ServerConfig{
		"macos-use": {
			Transport: "stdio", Command: "macos-use", Tier: 1,
			KeyTools: []string{"execute_command", "read_file", "write_file",
				"list_directory", "click_at_coordinate", "type_text",
				"take_screenshot", "kill_process", "run_applescript", "read_clipboard"},
		},
		"browser":             {Transport: "stdio", Command: "browser", Tier: 2},
		"duckduckgo-search":   {Transport: "stdio", Command: "ddg", Tier: 2},
		"memory":              {Transport: "stdio", Command: "memory", Tier: 1},
		"sequential-thinking": {Transport: "stdio", Command: "seq", Tier: 1},
		"vibe":                {Transport: "stdio", Command: "vibe", Tier: 3},
		"maps":                {Transport: "stdio", Command: "maps", Tier: 3},
	}}
	schemas := &config.SchemasConfig{Tools: map[string]*config.ToolSchemaConfig{
		"execute_command":     {Server: "macos-use", Required: []string{"command"}},
		"read_file":           {Server: "macos-use", Required: []string{"path"}},
		"write_file":          {Server: "macos-use", Required: []string{"path", "content"}},
		"list_directory":      {Server: "macos-use", Optional: []string{"path"}},
		"click_at_coordinate": {Server: "macos-use", Required: []string{"x", "y"}, Types: map[string]string{"x": "integer", "y": "integer"}},
		"take_screenshot":     {Server: "macos-use"},
		"kill_process":        {Server: "macos-use", Required: []string{"pid"}},
		"navigate":            {Server: "browser", Required: []string{"url"}},
		"search":              {Server: "duckduckgo-search", Required: []string{"query"}},
		"store_memory":        {Server: "memory", Required: []string{"content"}},
		"search_memory":       {Server: "memory", Required: []string{"query"}},
		"sequentialthinking":  {Server: "sequential-thinking", Required: []string{"thought"}},
		"vibe_analyze_error":  {Server: "vibe", Required: []string{"error"}, Optional: []string{"cwd", "auto_fix", "context"}},
		"get_directions":      {Server: "maps", Required: []string{"origin", "destination"}},
	}}
	registry, err := schema.Load(schemas, servers)
	require.NoError(t, err)
	return registry
}

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return New(testRegistry(t), nil, sharedctx.New(), sharedctx.NewMapState(), Options{})
}

func TestResolve_HallucinatedNames(t *testing.T) {
	d := testDispatcher(t)

	_, failure := d.Resolve(Call{Tool: "evaluate"})
	require.NotNil(t, failure)
	assert.Equal(t, TagHallucinated, failure.Tag)
	assert.True(t, failure.Hallucinated)
	assert.Contains(t, failure.Error, "Tool 'evaluate' does not exist")
	assert.Contains(t, failure.Error, "vibe_code_review")
}

func TestResolve_ExplicitServerDisambiguatesRun(t *testing.T) {
	d := testDispatcher(t)

	// Bare "run" is a hallucination...
	_, failure := d.Resolve(Call{Tool: "run"})
	require.NotNil(t, failure)
	assert.Equal(t, TagHallucinated, failure.Tag)

	// ...but with an explicit server the synonym table resolves it.
	res, failure := d.Resolve(Call{
		Tool:           "run",
		ExplicitServer: "macos-use",
		Args:           map[string]any{"command": "ls"},
	})
	require.Nil(t, failure)
	assert.Equal(t, "macos-use", res.Server)
	assert.Equal(t, "execute_command", res.Tool)
}

func TestResolve_DottedNamespaceEqualsExplicitServer(t *testing.T) {
	d := testDispatcher(t)
	args := map[string]any{"path": "/tmp/x.txt"}

	dotted, failure := d.Resolve(Call{Tool: "macos-use.read_file", Args: args})
	require.Nil(t, failure)

	explicit, failure := d.Resolve(Call{Tool: "read_file", ExplicitServer: "macos-use", Args: args})
	require.Nil(t, failure)

	assert.Equal(t, explicit.Server, dotted.Server)
	assert.Equal(t, explicit.Tool, dotted.Tool)
}

func TestResolve_ServerPrefixStripping(t *testing.T) {
	d := testDispatcher(t)

	res, failure := d.Resolve(Call{Tool: "memory_search_memory", Args: map[string]any{"query": "cats"}})
	require.Nil(t, failure)
	assert.Equal(t, "memory", res.Server)
	assert.Equal(t, "search_memory", res.Tool)
}

func TestResolve_OSNativePriorityWords(t *testing.T) {
	d := testDispatcher(t)

	res, failure := d.Resolve(Call{Tool: "git", Args: map[string]any{"command": "git status"}})
	require.Nil(t, failure)
	assert.Equal(t, "macos-use", res.Server)
	assert.Equal(t, "execute_command", res.Tool)
}

func TestResolve_RegistryFallback(t *testing.T) {
	d := testDispatcher(t)

	res, failure := d.Resolve(Call{Tool: "navigate", Args: map[string]any{"url": "https://example.com"}})
	require.Nil(t, failure)
	assert.Equal(t, "browser", res.Server)
}

func TestResolve_UnknownToolSuggests(t *testing.T) {
	d := testDispatcher(t)

	_, failure := d.Resolve(Call{Tool: "serch", Args: map[string]any{"query": "x"}})
	require.NotNil(t, failure)
	assert.Equal(t, TagUnknownTool, failure.Tag)
	assert.Contains(t, failure.Suggestions, "search")
	assert.Contains(t, failure.Error, "Did you mean")
}

func TestResolve_CompatibilityCheck(t *testing.T) {
	d := testDispatcher(t)

	_, failure := d.Resolve(Call{
		Tool:           "navigate",
		ExplicitServer: "macos-use",
		Args:           map[string]any{"url": "https://example.com"},
	})
	require.NotNil(t, failure)
	assert.Equal(t, toolserver.TagCompatibilityError, failure.Tag)
	assert.Contains(t, failure.Error, "not compatible")
}

func TestResolve_ArgSynonymAutoFill(t *testing.T) {
	d := testDispatcher(t)

	res, failure := d.Resolve(Call{Tool: "search", Args: map[string]any{"q": "weather kyiv"}})
	require.Nil(t, failure)
	assert.Equal(t, "weather kyiv", res.Args["query"])
	assert.NotContains(t, res.Args, "q")
}

func TestResolve_TypeCoercion(t *testing.T) {
	d := testDispatcher(t)

	res, failure := d.Resolve(Call{Tool: "click_at_coordinate", Args: map[string]any{"x": "120", "y": 40.0}})
	require.Nil(t, failure)
	assert.Equal(t, 120, res.Args["x"])
	assert.Equal(t, 40, res.Args["y"])
}

func TestResolve_MissingRequiredArgs(t *testing.T) {
	d := testDispatcher(t)

	_, failure := d.Resolve(Call{Tool: "execute_command", ExplicitServer: "macos-use", Args: map[string]any{}})
	require.NotNil(t, failure)
	assert.Equal(t, toolserver.TagValidationError, failure.Tag)
	assert.Contains(t, failure.Error, "command")
}

func TestResolve_InferToolFromArgs(t *testing.T) {
	d := testDispatcher(t)

	res, failure := d.Resolve(Call{Args: map[string]any{"command": "uname -a"}})
	require.Nil(t, failure)
	assert.Equal(t, "execute_command", res.Tool)
	assert.Equal(t, "macos-use", res.Server)
}

func TestResolve_CwdChaining(t *testing.T) {
	d := testDispatcher(t)

	res, failure := d.Resolve(Call{
		Tool:           "execute_command",
		ExplicitServer: "macos-use",
		Args:           map[string]any{"command": "npm install", "cwd": "/tmp/project"},
	})
	require.Nil(t, failure)
	assert.Equal(t, "cd /tmp/project && npm install", res.Args["command"])
	assert.NotContains(t, res.Args, "cwd")
}

func TestResolve_PIDInjection(t *testing.T) {
	shared := sharedctx.New()
	shared.SetLastPID(4242)
	d := New(testRegistry(t), nil, shared, nil, Options{})

	res, failure := d.Resolve(Call{Tool: "kill_process", ExplicitServer: "macos-use", Args: map[string]any{}})
	require.Nil(t, failure)
	assert.Equal(t, 4242, res.Args["pid"])
}

func TestResolve_SearchNeverHitsBrowser(t *testing.T) {
	d := testDispatcher(t)

	res, failure := d.Resolve(Call{Tool: "search", ExplicitServer: "browser", Args: map[string]any{"query": "cats"}})
	require.Nil(t, failure)
	assert.Equal(t, "duckduckgo-search", res.Server)
}

func TestResolve_DoesNotMutateCallerArgs(t *testing.T) {
	d := testDispatcher(t)
	args := map[string]any{"q": "cats"}

	_, failure := d.Resolve(Call{Tool: "search", Args: args})
	require.Nil(t, failure)
	assert.Equal(t, map[string]any{"q": "cats"}, args)
}

func TestResolveAndDispatch_BlocksDestructiveCommands(t *testing.T) {
	d := testDispatcher(t)

	result := d.ResolveAndDispatch(t.Context(), Call{
		Tool:           "execute_command",
		ExplicitServer: "macos-use",
		Args:           map[string]any{"command": "rm -rf /"},
	})
	assert.False(t, result.Success)
	assert.Equal(t, TagBlocked, result.Tag)
	assert.Contains(t, result.Error, "blocked")
}

func TestExtractPID(t *testing.T) {
	pid, ok := extractPID(`{"pid": 123, "status": "running"}`)
	assert.True(t, ok)
	assert.Equal(t, 123, pid)

	pid, ok = extractPID(`started process "pid": 77 ok`)
	assert.True(t, ok)
	assert.Equal(t, 77, pid)

	_, ok = extractPID("no process here")
	assert.False(t, ok)
}

func TestCoerceValue(t *testing.T) {
	v, err := coerceValue("42", "integer")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = coerceValue(3.0, "string")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	v, err = coerceValue("true", "boolean")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = coerceValue("not-a-number", "integer")
	assert.Error(t, err)
}
