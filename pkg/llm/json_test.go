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

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"bare array", `[1, 2, 3]`, `[1, 2, 3]`},
		{"leading prose", `Sure, here is the plan: {"a": 1}`, `{"a": 1}`},
		{"trailing prose", `{"a": 1} hope that helps!`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"nested braces", `{"a": {"b": [1, {"c": 2}]}}`, `{"a": {"b": [1, {"c": 2}]}}`},
		{"braces inside strings", `{"text": "use { and } freely"}`, `{"text": "use { and } freely"}`},
		{"escaped quotes", `{"text": "say \"hi\" {"}`, `{"text": "say \"hi\" {"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSON_Errors(t *testing.T) {
	_, err := ExtractJSON("no json here at all")
	assert.Error(t, err)

	_, err = ExtractJSON(`{"unbalanced": 1`)
	assert.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Mode string `json:"mode"`
	}
	err := DecodeJSON("The classification is:\n```json\n{\"mode\": \"task\"}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "task", out.Mode)
}

func TestDecodeMap_WeakTyping(t *testing.T) {
	var out struct {
		Count   int    `json:"count"`
		Enabled bool   `json:"enabled"`
		Name    string `json:"name"`
	}
	err := DecodeMap(map[string]any{
		"count":   "7",
		"enabled": "true",
		"name":    "x",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Count)
	assert.True(t, out.Enabled)
}
