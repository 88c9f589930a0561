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

// Package segment splits a mixed user request into mode-typed segments. The
// LLM does the real splitting; a keyword scanner is the deterministic
// fallback. Emission order is preserved end to end: positions reported by
// the LLM are treated as untrusted metadata and never used for sorting.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/mode"
)

const defaultMaxSegments = 5

// Segment is one mode-typed slice of the user request.
type Segment struct {
	Text       string        `json:"text"`
	Mode       string        `json:"mode"`
	Priority   int           `json:"priority,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	StartPos   int           `json:"start_pos,omitempty"`
	EndPos     int           `json:"end_pos,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Profile    *mode.Profile `json:"-"`
}

// Splitter turns a request into ordered segments.
type Splitter struct {
	cfg    *config.ModesConfig
	router *mode.Router
	llms   *llm.Registry
}

func NewSplitter(cfg *config.ModesConfig, router *mode.Router, llms *llm.Registry) *Splitter {
	return &Splitter{cfg: cfg, router: router, llms: llms}
}

// identityPhrases route to deep_chat in any language, even buried inside a
// long compound request.
var identityPhrases = []string{
	"хто ти", "хто ти такий", "яка твоя місія", "у чому твоя місія",
	"who are you", "what is your mission", "what are you",
	"кто ты", "какая твоя миссия",
}

// SplitRequest segments the request. Never returns an empty slice: the
// degenerate cases collapse to a single segment.
func (s *Splitter) SplitRequest(ctx context.Context, request string, history []llm.Message) []Segment {
	trimmed := strings.TrimSpace(request)
	if trimmed == "" {
		return []Segment{s.single("", mode.ModeChat, "empty request")}
	}

	if containsIdentityQuestion(trimmed) && len(strings.Fields(trimmed)) <= 12 {
		return []Segment{s.single(trimmed, mode.ModeDeepChat, "identity question")}
	}

	if !s.cfg.Segmentation.IsEnabled() {
		profile := s.router.FallbackClassify(trimmed)
		return []Segment{s.singleWithProfile(trimmed, profile)}
	}

	segments := s.splitWithLLM(ctx, trimmed, history)
	if len(segments) == 0 {
		segments = s.splitByKeywords(trimmed)
	}
	if len(segments) == 0 {
		profile := s.router.FallbackClassify(trimmed)
		segments = []Segment{s.singleWithProfile(trimmed, profile)}
	}

	segments = s.overrideIdentitySegments(segments)
	segments = s.mergeAdjacent(segments)
	segments = s.cap(segments)
	s.attachProfiles(segments)

	return segments
}

func (s *Splitter) single(text, modeName, reason string) Segment {
	profile := s.router.BuildProfileForMode(modeName)
	profile.Reason = reason
	return Segment{Text: text, Mode: modeName, Reason: reason, Priority: profile.Priority, Profile: profile}
}

func (s *Splitter) singleWithProfile(text string, profile *mode.Profile) Segment {
	return Segment{Text: text, Mode: profile.Mode, Reason: profile.Reason, Priority: profile.Priority, Profile: profile}
}

// splitWithLLM asks the standard-tier model for a JSON segmentation and
// validates every returned segment. Any parse or validation miss degrades to
// the keyword scanner.
func (s *Splitter) splitWithLLM(ctx context.Context, request string, history []llm.Message) []Segment {
	if s.llms == nil {
		return nil
	}
	provider, err := s.llms.ForTier(llm.TierStandard)
	if err != nil {
		return nil
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: s.buildPrompt(request)})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: request})

	resp, err := provider.Generate(ctx, messages)
	if err != nil {
		slog.Warn("LLM segmentation failed, using keyword fallback", "error", err)
		return nil
	}

	var parsed struct {
		Segments []Segment `json:"segments"`
	}
	if err := llm.DecodeJSON(resp.Text, &parsed); err != nil {
		slog.Warn("LLM segmentation returned invalid JSON", "error", err)
		return nil
	}

	minLen := s.cfg.Segmentation.MinSegmentLength
	var out []Segment
	for _, seg := range parsed.Segments {
		normalized := mode.NormalizeMode(seg.Mode)
		if normalized == "" {
			slog.Debug("Dropping segment with unknown mode", "mode", seg.Mode)
			continue
		}
		seg.Mode = normalized
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Text == "" || !strings.Contains(request, seg.Text) {
			slog.Debug("Dropping segment whose text is not a substring", "text", seg.Text)
			continue
		}
		if normalized != mode.ModeChat && minLen > 0 && len(strings.Fields(seg.Text)) < minLen {
			continue
		}
		out = append(out, seg)
	}
	return out
}

func (s *Splitter) buildPrompt(request string) string {
	var b strings.Builder
	b.WriteString("Split the user request into segments by execution mode. ")
	b.WriteString("Reply with JSON only: {\"segments\":[{\"text\",\"mode\",\"reason\",\"start_pos\",\"end_pos\",\"confidence\"}]}.\n")
	b.WriteString("Identity or mission questions always get mode deep_chat, priority 1.\n\nModes:\n")
	for name, cfg := range s.cfg.Modes {
		fmt.Fprintf(&b, "- %s (priority %d)", name, cfg.Segmentation.Priority)
		if len(cfg.Segmentation.Keywords) > 0 {
			fmt.Fprintf(&b, ": keywords %s", strings.Join(cfg.Segmentation.Keywords, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// splitByKeywords is the deterministic fallback: a linear scan that opens a
// new segment whenever a word matches a mode's split-keyword list.
func (s *Splitter) splitByKeywords(request string) []Segment {
	words := strings.Fields(request)
	if len(words) == 0 {
		return nil
	}

	splitModes := make(map[string]string)
	for name, cfg := range s.cfg.Modes {
		for _, kw := range cfg.Segmentation.SplitKeywords {
			splitModes[strings.ToLower(kw)] = name
		}
	}
	if len(splitModes) == 0 {
		return nil
	}

	var segments []Segment
	var current []string
	currentMode := ""

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, " ")
		name := currentMode
		if name == "" {
			name = s.router.FallbackClassify(text).Mode
		}
		segments = append(segments, Segment{Text: text, Mode: name, Reason: "keyword split"})
		current = nil
	}

	for _, word := range words {
		if name, ok := splitModes[strings.ToLower(strings.Trim(word, ".,!?"))]; ok {
			flush()
			currentMode = name
		}
		current = append(current, word)
	}
	flush()

	if len(segments) <= 1 {
		return nil
	}
	return segments
}

// overrideIdentitySegments forces identity questions to deep_chat no matter
// what the LLM labeled them.
func (s *Splitter) overrideIdentitySegments(segments []Segment) []Segment {
	for i := range segments {
		if containsIdentityQuestion(segments[i].Text) {
			segments[i].Mode = mode.ModeDeepChat
			segments[i].Reason = "identity question"
		}
	}
	return segments
}

// mergeAdjacent concatenates consecutive segments when the earlier mode's
// config permits merging with the later mode. The earlier mode wins.
func (s *Splitter) mergeAdjacent(segments []Segment) []Segment {
	if len(segments) < 2 {
		return segments
	}

	merged := []Segment{segments[0]}
	for _, next := range segments[1:] {
		last := &merged[len(merged)-1]
		if s.canMerge(last.Mode, next.Mode) {
			last.Text = last.Text + " " + next.Text
			last.EndPos = next.EndPos
		} else {
			merged = append(merged, next)
		}
	}
	return merged
}

func (s *Splitter) canMerge(earlier, later string) bool {
	if earlier == later {
		return true
	}
	cfg, ok := s.cfg.Modes[earlier]
	if !ok {
		return false
	}
	for _, m := range cfg.Segmentation.MergeWith {
		if m == later {
			return true
		}
	}
	return false
}

// cap keeps at most max_segments, preserving emission order. The overflow
// is folded into the last kept segment so no text is lost.
func (s *Splitter) cap(segments []Segment) []Segment {
	limit := s.cfg.Segmentation.MaxSegments
	if limit <= 0 {
		limit = defaultMaxSegments
	}
	if len(segments) <= limit {
		return segments
	}

	kept := segments[:limit]
	var overflow []string
	for _, seg := range segments[limit:] {
		overflow = append(overflow, seg.Text)
	}
	kept[limit-1].Text = kept[limit-1].Text + " " + strings.Join(overflow, " ")
	return kept
}

func (s *Splitter) attachProfiles(segments []Segment) {
	for i := range segments {
		if segments[i].Profile != nil {
			continue
		}
		profile := s.router.BuildProfileForMode(segments[i].Mode)
		if segments[i].Reason != "" {
			profile.Reason = segments[i].Reason
		}
		segments[i].Profile = profile
		segments[i].Priority = profile.Priority
	}
}

func containsIdentityQuestion(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range identityPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
