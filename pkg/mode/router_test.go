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

package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinitylabs/trinity/pkg/config"
)

func testModes() *config.ModesConfig {
	return &config.ModesConfig{
		Modes: map[string]*config.ModeConfig{
			"chat": {
				ToolsAccess: ToolsNone,
				Protocols:   []string{"persona"},
			},
			"deep_chat": {
				LLMTier:        "deep",
				ToolsAccess:    ToolsNone,
				UseDeepPersona: true,
				Protocols:      []string{"persona", "philosophy"},
			},
			"task": {
				RequirePlanning: true,
				RequireTools:    true,
				TrinityRequired: true,
			},
			"development": {
				Complexity:      "high",
				RequirePlanning: true,
				RequireTools:    true,
				TrinityRequired: true,
				UseVibe:         true,
				Servers:         []string{"vibe"},
			},
		},
		ProtocolRegistry: map[string]string{
			"persona":    "You are Trinity.",
			"philosophy": "Engage deeply with abstract questions.",
		},
	}
}

func TestNormalizeMode(t *testing.T) {
	assert.Equal(t, ModeDevelopment, NormalizeMode("dev"))
	assert.Equal(t, ModeDevelopment, NormalizeMode("CODING"))
	assert.Equal(t, ModeDeepChat, NormalizeMode("deep-chat"))
	assert.Equal(t, ModeSoloTask, NormalizeMode("solo"))
	assert.Equal(t, ModeTask, NormalizeMode(" task "))
	assert.Equal(t, "", NormalizeMode("nonsense"))
	assert.Equal(t, "", NormalizeMode(""))
}

func TestBuildProfile(t *testing.T) {
	router := NewRouter(testModes())

	t.Run("merges analysis over defaults", func(t *testing.T) {
		p := router.BuildProfile(map[string]any{
			"mode":          "development",
			"complexity":    "medium",
			"reason":        "code request",
			"extra_servers": []any{"browser", "vibe"},
		})
		assert.Equal(t, ModeDevelopment, p.Mode)
		assert.Equal(t, "medium", p.Complexity)
		assert.True(t, p.UseVibe)
		assert.Equal(t, []string{"vibe", "browser"}, p.Servers)
	})

	t.Run("unknown mode defaults to solo_task", func(t *testing.T) {
		p := router.BuildProfile(map[string]any{"mode": "quantum"})
		assert.Equal(t, ModeSoloTask, p.Mode)
	})

	t.Run("intent key is accepted", func(t *testing.T) {
		p := router.BuildProfile(map[string]any{"intent": "coding"})
		assert.Equal(t, ModeDevelopment, p.Mode)
	})

	t.Run("chat with deep persona upgrades to deep_chat", func(t *testing.T) {
		p := router.BuildProfile(map[string]any{"mode": "chat", "use_deep_persona": true})
		assert.Equal(t, ModeDeepChat, p.Mode)
		assert.Equal(t, "deep", p.LLMTier)
		assert.True(t, p.UseDeepPersona)
	})

	t.Run("deep persona is dropped for task modes", func(t *testing.T) {
		p := router.BuildProfile(map[string]any{"mode": "task", "use_deep_persona": true})
		assert.Equal(t, ModeTask, p.Mode)
		assert.False(t, p.UseDeepPersona)

		p = router.BuildProfile(map[string]any{"mode": "solo_task", "use_deep_persona": true})
		assert.False(t, p.UseDeepPersona)
	})

	t.Run("deep persona survives for development", func(t *testing.T) {
		p := router.BuildProfile(map[string]any{"mode": "development", "use_deep_persona": true})
		assert.Equal(t, ModeDevelopment, p.Mode)
		assert.True(t, p.UseDeepPersona)
	})
}

func TestProfileMapRoundTrip(t *testing.T) {
	router := NewRouter(testModes())
	original := router.BuildProfile(map[string]any{"mode": "development", "reason": "r"})

	decoded, err := FromMap(original.ToMap())
	require.NoError(t, err)
	assert.Equal(t, original.Mode, decoded.Mode)
	assert.Equal(t, original.Complexity, decoded.Complexity)
	assert.Equal(t, original.Servers, decoded.Servers)
	assert.Equal(t, original.UseVibe, decoded.UseVibe)
	assert.Equal(t, original.TrinityRequired, decoded.TrinityRequired)
}

func TestResolveProtocols(t *testing.T) {
	router := NewRouter(testModes())
	p := router.BuildProfileForMode("deep_chat")

	blocks := router.ResolveProtocols(p)
	require.Len(t, blocks, 2)
	assert.Equal(t, "You are Trinity.", blocks[0])

	// Unknown protocol names are skipped, order kept.
	p.Protocols = []string{"missing", "philosophy"}
	blocks = router.ResolveProtocols(p)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Engage deeply with abstract questions.", blocks[0])
}

func TestFallbackClassify(t *testing.T) {
	router := NewRouter(testModes())

	tests := []struct {
		name     string
		request  string
		wantMode string
	}{
		{"code vocabulary", "please refactor this function to remove the bug", ModeDevelopment},
		{"code vocabulary ukrainian", "виправ баг у скрипті", ModeDevelopment},
		{"imperative verb", "open the browser and go to the dashboard please", ModeTask},
		{"imperative verb ukrainian", "відкрий браузер і перейди на сайт новин", ModeTask},
		{"short utterance", "hello there", ModeChat},
		{"long request", "please prepare a full summary of yesterday and send it to the whole team with the attachments from the shared folder today", ModeTask},
		{"short question", "what is the capital of France?", ModeSoloTask},
		{"default", "I would like some weather information for tomorrow morning", ModeSoloTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := router.FallbackClassify(tt.request)
			assert.Equal(t, tt.wantMode, p.Mode, "request: %s", tt.request)
			assert.NotEmpty(t, p.Reason)
		})
	}

	t.Run("long request gets high complexity", func(t *testing.T) {
		p := router.FallbackClassify("please prepare a full summary of yesterday and send it to the whole team with the attachments from the shared folder today")
		assert.Equal(t, "high", p.Complexity)
	})
}

func TestProfilePredicates(t *testing.T) {
	router := NewRouter(testModes())

	assert.True(t, router.BuildProfileForMode(ModeChat).IsConversational())
	assert.True(t, router.BuildProfileForMode(ModeDeepChat).IsConversational())
	assert.False(t, router.BuildProfileForMode(ModeTask).IsConversational())

	assert.True(t, router.BuildProfileForMode(ModeTask).NeedsTrinity())
	assert.True(t, router.BuildProfileForMode(ModeDevelopment).NeedsTrinity())
	assert.False(t, router.BuildProfileForMode(ModeChat).NeedsTrinity())
}
