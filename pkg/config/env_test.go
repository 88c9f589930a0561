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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TRINITY_TEST_HOME", "/home/test")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no dollar untouched", "plain string", "plain string"},
		{"braced", "${TRINITY_TEST_HOME}/bin", "/home/test/bin"},
		{"simple", "$TRINITY_TEST_HOME/bin", "/home/test/bin"},
		{"default used when unset", "${TRINITY_TEST_MISSING:-/opt/fallback}", "/opt/fallback"},
		{"default ignored when set", "${TRINITY_TEST_HOME:-/opt/fallback}", "/home/test"},
		{"unset braced becomes empty", "${TRINITY_TEST_MISSING}", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandEnvVars(tt.input))
		})
	}
}

func TestExpandEnvVars_ProjectRootFallsBackToCwd(t *testing.T) {
	got := ExpandEnvVars("${PROJECT_ROOT}/data")
	assert.NotEqual(t, "/data", got)
	assert.Contains(t, got, "/data")
}

func TestExpandRaw(t *testing.T) {
	t.Setenv("TRINITY_TEST_KEY", "sk-raw")

	raw := map[string]any{
		"api_key": "${TRINITY_TEST_KEY}",
		"nested":  map[string]any{"addr": "${TRINITY_TEST_MISSING:-localhost:6379}"},
		"list":    []any{"$TRINITY_TEST_KEY", 42},
		"number":  1.5,
	}

	out, ok := ExpandRaw(raw).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sk-raw", out["api_key"])
	assert.Equal(t, "localhost:6379", out["nested"].(map[string]any)["addr"])
	assert.Equal(t, []any{"sk-raw", 42}, out["list"])
	assert.Equal(t, 1.5, out["number"])

	// Original stays pristine.
	assert.Equal(t, "${TRINITY_TEST_KEY}", raw["api_key"])
}

func TestExpandServerConfig_CopiesAndExpands(t *testing.T) {
	t.Setenv("TRINITY_TEST_BIN", "/usr/local/bin")

	orig := &ServerConfig{
		Command: "${TRINITY_TEST_BIN}/server",
		Args:    []string{"--root", "$TRINITY_TEST_BIN"},
		Env:     map[string]string{"PATH_HINT": "${TRINITY_TEST_BIN}"},
	}

	out := ExpandServerConfig(orig)
	require.NotNil(t, out)
	assert.Equal(t, "/usr/local/bin/server", out.Command)
	assert.Equal(t, []string{"--root", "/usr/local/bin"}, out.Args)
	assert.Equal(t, "/usr/local/bin", out.Env["PATH_HINT"])

	// Original stays pristine for reloads.
	assert.Equal(t, "${TRINITY_TEST_BIN}/server", orig.Command)
	assert.Equal(t, "$TRINITY_TEST_BIN", orig.Args[1])

	assert.Nil(t, ExpandServerConfig(nil))
}
