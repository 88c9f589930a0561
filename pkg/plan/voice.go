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
	"sort"
	"strings"
	"unicode"
)

// ukrainianVerbPhrases maps the leading verb of a step action to a spoken
// phrase. Keys are matched by prefix against the lowercased first word.
var ukrainianVerbPhrases = map[string]string{
	"open":      "Відкриваю",
	"close":     "Закриваю",
	"create":    "Створюю",
	"delete":    "Видаляю",
	"remove":    "Видаляю",
	"write":     "Пишу",
	"read":      "Читаю",
	"search":    "Шукаю",
	"find":      "Шукаю",
	"install":   "Встановлюю",
	"download":  "Завантажую",
	"upload":    "Вивантажую",
	"execute":   "Виконую команду",
	"run":       "Виконую команду",
	"launch":    "Запускаю",
	"start":     "Запускаю",
	"stop":      "Зупиняю",
	"click":     "Натискаю",
	"type":      "Вводжу текст",
	"check":     "Перевіряю",
	"verify":    "Перевіряю",
	"test":      "Тестую",
	"send":      "Надсилаю",
	"copy":      "Копіюю",
	"move":      "Переміщую",
	"build":     "Збираю проєкт",
	"compile":   "Компілюю",
	"analyze":   "Аналізую",
	"fetch":     "Отримую",
	"get":       "Отримую",
	"update":    "Оновлюю",
	"configure": "Налаштовую",
	"connect":   "Підключаюся",
	"wait":      "Очікую",
	"save":      "Зберігаю",
}

const defaultVoiceAction = "Виконую наступний крок"

// ContainsLatin reports whether the text has any Latin letter.
func ContainsLatin(text string) bool {
	for _, r := range text {
		if r <= unicode.MaxASCII && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// StandardizeVoiceActions rewrites every step whose voice_action is missing
// or mixes Latin letters into the target language. Deterministic: keyed by
// the action's leading verb, with a generic fallback. For Latin-script
// target languages only the missing case is repaired.
func StandardizeVoiceActions(p *Plan, language string) {
	nonLatin := isNonLatinLanguage(language)
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.VoiceAction != "" && !(nonLatin && ContainsLatin(step.VoiceAction)) {
			continue
		}
		step.VoiceAction = voiceActionFor(step.Action)
	}
}

func voiceActionFor(action string) string {
	words := strings.Fields(strings.ToLower(action))
	if len(words) == 0 {
		return defaultVoiceAction
	}
	first := strings.Trim(words[0], ".,:;")
	if phrase, ok := ukrainianVerbPhrases[first]; ok {
		return phrase
	}
	for _, verb := range verbOrder {
		if strings.HasPrefix(first, verb) {
			return ukrainianVerbPhrases[verb]
		}
	}
	return defaultVoiceAction
}

var verbOrder = func() []string {
	verbs := make([]string, 0, len(ukrainianVerbPhrases))
	for verb := range ukrainianVerbPhrases {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	return verbs
}()

func isNonLatinLanguage(language string) bool {
	switch strings.ToLower(language) {
	case "uk", "ru", "bg", "sr", "el", "he", "ar", "zh", "ja", "ko":
		return true
	}
	return false
}
