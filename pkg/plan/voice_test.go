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

package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsLatin(t *testing.T) {
	assert.True(t, ContainsLatin("Відкриваю browser"))
	assert.True(t, ContainsLatin("Opening the browser"))
	assert.False(t, ContainsLatin("Відкриваю браузер"))
	assert.False(t, ContainsLatin("123 ... !"))
	assert.False(t, ContainsLatin(""))
}

func TestStandardizeVoiceActions(t *testing.T) {
	t.Run("missing voice actions are filled from the leading verb", func(t *testing.T) {
		p := New("test")
		p.Steps = []Step{
			{ID: "1", Action: "Open the browser"},
			{ID: "2", Action: "search for weather in Kyiv"},
			{ID: "3", Action: "frobnicate the widget"},
		}

		StandardizeVoiceActions(p, "uk")

		assert.Equal(t, "Відкриваю", p.Steps[0].VoiceAction)
		assert.Equal(t, "Шукаю", p.Steps[1].VoiceAction)
		assert.Equal(t, defaultVoiceAction, p.Steps[2].VoiceAction)
	})

	t.Run("mixed-script voice actions are rewritten", func(t *testing.T) {
		p := New("test")
		p.Steps = []Step{{ID: "1", Action: "run the tests", VoiceAction: "Запускаю tests"}}

		StandardizeVoiceActions(p, "uk")

		assert.Equal(t, "Виконую команду", p.Steps[0].VoiceAction)
		assert.False(t, ContainsLatin(p.Steps[0].VoiceAction))
	})

	t.Run("clean non-latin voice actions are kept", func(t *testing.T) {
		p := New("test")
		p.Steps = []Step{{ID: "1", Action: "open browser", VoiceAction: "Відкриваю браузер"}}

		StandardizeVoiceActions(p, "uk")

		assert.Equal(t, "Відкриваю браузер", p.Steps[0].VoiceAction)
	})

	t.Run("latin-script language only repairs missing", func(t *testing.T) {
		p := New("test")
		p.Steps = []Step{
			{ID: "1", Action: "open browser", VoiceAction: "Opening the browser"},
			{ID: "2", Action: "open browser"},
		}

		StandardizeVoiceActions(p, "en")

		assert.Equal(t, "Opening the browser", p.Steps[0].VoiceAction)
		assert.NotEmpty(t, p.Steps[1].VoiceAction)
	})

	t.Run("inflected verbs match by prefix", func(t *testing.T) {
		p := New("test")
		p.Steps = []Step{{ID: "1", Action: "downloading the installer"}}

		StandardizeVoiceActions(p, "uk")

		assert.Equal(t, "Завантажую", p.Steps[0].VoiceAction)
	})
}

func TestVoiceActionFor_Deterministic(t *testing.T) {
	// Same action must always produce the same phrase.
	first := voiceActionFor("starting the server")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, voiceActionFor("starting the server"))
	}
}
