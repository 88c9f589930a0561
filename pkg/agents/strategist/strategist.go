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

// Package strategist implements the planning agent: request classification,
// plan synthesis with self-audit, critique assessment, executor recovery
// help, autonomous user decisions, and final execution evaluation.
package strategist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/dispatch"
	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/mode"
	"github.com/trinitylabs/trinity/pkg/schema"
	"github.com/trinitylabs/trinity/pkg/sharedctx"
)

const (
	selfAuditThreshold = 0.8
	planRetryLimit     = 2
)

// Strategist is agent A.
type Strategist struct {
	llms       *llm.Registry
	dispatcher *dispatch.Dispatcher
	registry   *schema.Registry
	router     *mode.Router
	shared     *sharedctx.Context
	language   string
}

func New(llms *llm.Registry, dispatcher *dispatch.Dispatcher, registry *schema.Registry, router *mode.Router, shared *sharedctx.Context, cfg *config.Config) *Strategist {
	language := "uk"
	if cfg != nil && cfg.Language != "" {
		language = cfg.Language
	}
	return &Strategist{
		llms:       llms,
		dispatcher: dispatcher,
		registry:   registry,
		router:     router,
		shared:     shared,
		language:   language,
	}
}

// Classification is the analyze_request output.
type Classification struct {
	Mode            string        `json:"mode"`
	Reason          string        `json:"reason,omitempty"`
	EnrichedRequest string        `json:"enriched_request,omitempty"`
	Complexity      string        `json:"complexity,omitempty"`
	UseDeepPersona  bool          `json:"use_deep_persona,omitempty"`
	VoiceResponse   string        `json:"voice_response,omitempty"`
	Profile         *mode.Profile `json:"-"`
}

// AnalyzeRequest classifies and enriches a request. LLM failures degrade to
// the router's heuristic, never to an error.
func (s *Strategist) AnalyzeRequest(ctx context.Context, text string, history []llm.Message, images []llm.Image) *Classification {
	provider, err := s.llms.ForTier(llm.TierStandard)
	if err != nil {
		return s.fallbackClassification(text)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: s.analyzePrompt()})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: text, Images: images})

	resp, err := provider.Generate(ctx, messages)
	if err != nil {
		slog.Warn("Request analysis failed, using heuristic classifier", "error", err)
		return s.fallbackClassification(text)
	}

	var blob map[string]any
	if err := llm.DecodeJSON(resp.Text, &blob); err != nil {
		slog.Warn("Request analysis returned invalid JSON", "error", err)
		return s.fallbackClassification(text)
	}

	if s.looksLikeRepeatRequest(text) {
		if enriched := s.recallLastTask(ctx); enriched != "" {
			blob["enriched_request"] = enriched
		}
	}

	classification := &Classification{Profile: s.router.BuildProfile(blob)}
	if v, ok := blob["reason"].(string); ok {
		classification.Reason = v
	}
	if v, ok := blob["enriched_request"].(string); ok {
		classification.EnrichedRequest = v
	}
	if v, ok := blob["complexity"].(string); ok {
		classification.Complexity = v
	}
	if v, ok := blob["voice_response"].(string); ok {
		classification.VoiceResponse = v
	}
	if v, ok := blob["use_deep_persona"].(bool); ok {
		classification.UseDeepPersona = v
	}
	classification.Mode = classification.Profile.Mode
	if classification.EnrichedRequest == "" {
		classification.EnrichedRequest = text
	}
	return classification
}

func (s *Strategist) fallbackClassification(text string) *Classification {
	profile := s.router.FallbackClassify(text)
	return &Classification{
		Mode:            profile.Mode,
		Reason:          profile.Reason,
		EnrichedRequest: text,
		Complexity:      profile.Complexity,
		Profile:         profile,
	}
}

var repeatPhrases = []string{
	"repeat last", "same as before", "як минулого разу", "повтори останн",
	"те саме", "как в прошлый раз",
}

func (s *Strategist) looksLikeRepeatRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range repeatPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Remember persists a task summary to long-term memory.
func (s *Strategist) Remember(ctx context.Context, summary string) {
	if s.dispatcher == nil {
		return
	}
	result := s.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
		Tool:           "store_memory",
		Args:           map[string]any{"content": summary, "category": "task_summary"},
		ExplicitServer: "memory",
	})
	if !result.Success {
		slog.Debug("Failed to store task summary", "error", result.Error)
	}
}

// recallLastTask consults long-term memory for the most recent task summary.
func (s *Strategist) recallLastTask(ctx context.Context) string {
	if s.dispatcher == nil {
		return ""
	}
	result := s.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
		Tool:           "search_memory",
		Args:           map[string]any{"query": "last completed task", "limit": 1},
		ExplicitServer: "memory",
	})
	if !result.Success {
		return ""
	}
	return result.Output
}

// recallPlanContext fetches similar past task summaries and deviation
// lessons for the planning prompt.
func (s *Strategist) recallPlanContext(ctx context.Context, goal string) string {
	if s.dispatcher == nil {
		return ""
	}

	var sections []string
	similar := s.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
		Tool:           "search_memory",
		Args:           map[string]any{"query": goal, "limit": 3},
		ExplicitServer: "memory",
	})
	if similar.Success && similar.Output != "" {
		sections = append(sections, "Similar past tasks:\n"+similar.Output)
	}

	lessons := s.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
		Tool:           "search_memory",
		Args:           map[string]any{"query": "deviation lesson " + goal, "limit": 2},
		ExplicitServer: "memory",
	})
	if lessons.Success && lessons.Output != "" {
		sections = append(sections, "Behavioral lessons:\n"+lessons.Output)
	}

	return strings.Join(sections, "\n\n")
}

// sequentialThink runs one sequential-thinking pass and returns its text.
func (s *Strategist) sequentialThink(ctx context.Context, thought string) string {
	if s.dispatcher == nil {
		return ""
	}
	result := s.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
		Tool: "sequentialthinking",
		Args: map[string]any{
			"thought":           thought,
			"thoughtNumber":     1,
			"totalThoughts":     1,
			"nextThoughtNeeded": false,
		},
		ExplicitServer: "sequential-thinking",
	})
	if !result.Success {
		return ""
	}
	return result.Output
}

func (s *Strategist) analyzePrompt() string {
	return `Classify the user request. Reply with JSON only:
{"mode": "chat|deep_chat|solo_task|task|development|recall|status",
 "reason": "...", "enriched_request": "...", "complexity": "low|medium|high",
 "use_deep_persona": false, "extra_servers": [], "extra_protocols": [],
 "voice_response": "short spoken acknowledgment in the user's language"}`
}

// DecideForUser answers a pending step question on the user's behalf after
// the silent-answer timeout. Always returns a decisive answer.
func (s *Strategist) DecideForUser(ctx context.Context, question, taskContext string) string {
	provider, err := s.llms.ForTier(llm.TierStandard)
	if err != nil {
		return s.defaultDecision()
	}

	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: fmt.Sprintf(
			"The user did not answer in time. Decide on their behalf, briefly and decisively, in language '%s'. Reply with the answer text only.", s.language)},
		{Role: "user", Content: fmt.Sprintf("Task context: %s\n\nQuestion: %s", taskContext, question)},
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		return s.defaultDecision()
	}
	return strings.TrimSpace(resp.Text)
}

func (s *Strategist) defaultDecision() string {
	if s.language == "uk" {
		return "Продовжуй за найпростішим варіантом."
	}
	return "Proceed with the simplest option."
}

// Chat answers a conversational segment directly.
func (s *Strategist) Chat(ctx context.Context, profile *mode.Profile, text string, history []llm.Message) (string, error) {
	tier := llm.TierStandard
	if profile != nil && profile.LLMTier == "deep" {
		tier = llm.TierDeep
	}
	provider, err := s.llms.ForTier(tier)
	if err != nil {
		return "", err
	}

	system := fmt.Sprintf("You are a helpful assistant. Answer in language '%s'.", s.language)
	if profile != nil && profile.UseDeepPersona {
		system = fmt.Sprintf(
			"You are a thoughtful companion with a distinct persona. Engage substantively with identity and philosophical questions. Answer in language '%s'.", s.language)
	}
	if s.router != nil && profile != nil {
		if blocks := s.router.ResolveProtocols(profile); len(blocks) > 0 {
			system += "\n\n" + strings.Join(blocks, "\n\n")
		}
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: text})

	resp, err := provider.Generate(ctx, llm.TruncateHistory(messages, 8000))
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
