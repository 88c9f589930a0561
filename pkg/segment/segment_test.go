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

package segment

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/mode"
)

func testSplitter(cfg *config.ModesConfig) *Splitter {
	if cfg == nil {
		cfg = &config.ModesConfig{Modes: map[string]*config.ModeConfig{}}
	}
	// No LLM registry: segmentation exercises the deterministic fallbacks.
	return NewSplitter(cfg, mode.NewRouter(cfg), nil)
}

func TestSplitRequest_EmptyYieldsSingleChatSegment(t *testing.T) {
	s := testSplitter(nil)

	segments := s.SplitRequest(context.Background(), "   ", nil)
	require.Len(t, segments, 1)
	assert.Equal(t, mode.ModeChat, segments[0].Mode)
	require.NotNil(t, segments[0].Profile)
}

func TestSplitRequest_IdentityQuestionIsDeepChat(t *testing.T) {
	s := testSplitter(nil)

	for _, request := range []string{"хто ти такий?", "who are you really", "кто ты?"} {
		segments := s.SplitRequest(context.Background(), request, nil)
		require.Len(t, segments, 1, "request: %s", request)
		assert.Equal(t, mode.ModeDeepChat, segments[0].Mode)
	}
}

func TestSplitRequest_SegmentationDisabledUsesFallback(t *testing.T) {
	disabled := false
	cfg := &config.ModesConfig{
		Modes:        map[string]*config.ModeConfig{},
		Segmentation: config.SegmentationConfig{Enabled: &disabled},
	}
	s := testSplitter(cfg)

	segments := s.SplitRequest(context.Background(), "open the browser and check the mail", nil)
	require.Len(t, segments, 1)
	assert.Equal(t, mode.ModeTask, segments[0].Mode)
}

func TestSplitRequest_KeywordFallbackSplits(t *testing.T) {
	cfg := &config.ModesConfig{
		Modes: map[string]*config.ModeConfig{
			"task": {Segmentation: config.ModeSegmentation{
				SplitKeywords: []string{"then"},
			}},
		},
	}
	s := testSplitter(cfg)

	request := "tell me a joke then open the browser and search the weather"
	segments := s.SplitRequest(context.Background(), request, nil)
	require.Len(t, segments, 2)

	// Order preserved, no text lost.
	var joined []string
	for _, seg := range segments {
		joined = append(joined, seg.Text)
		require.NotNil(t, seg.Profile)
	}
	assert.Equal(t, request, strings.Join(joined, " "))
	assert.Equal(t, "task", segments[1].Mode)
}

func TestSplitRequest_AdjacentSameModesMerge(t *testing.T) {
	cfg := &config.ModesConfig{
		Modes: map[string]*config.ModeConfig{
			"task": {Segmentation: config.ModeSegmentation{
				SplitKeywords: []string{"then", "also"},
			}},
		},
	}
	s := testSplitter(cfg)

	segments := s.SplitRequest(context.Background(),
		"download the report then print it also archive the folder", nil)
	// The keyword scanner opens three task segments; merge collapses them.
	require.Len(t, segments, 1)
	assert.Equal(t, "task", segments[0].Mode)
	assert.Contains(t, segments[0].Text, "archive the folder")
}

func TestCap_OverflowFoldsIntoLastSegment(t *testing.T) {
	cfg := &config.ModesConfig{
		Modes:        map[string]*config.ModeConfig{},
		Segmentation: config.SegmentationConfig{MaxSegments: 2},
	}
	s := testSplitter(cfg)

	segments := []Segment{
		{Text: "one", Mode: mode.ModeChat},
		{Text: "two", Mode: mode.ModeTask},
		{Text: "three", Mode: mode.ModeSoloTask},
		{Text: "four", Mode: mode.ModeRecall},
	}
	capped := s.cap(segments)

	require.Len(t, capped, 2)
	assert.Equal(t, "one", capped[0].Text)
	assert.Equal(t, "two three four", capped[1].Text)
	// Mode of the kept segment is unchanged: capping never reorders or
	// reclassifies.
	assert.Equal(t, mode.ModeTask, capped[1].Mode)
}

func TestMergeAdjacent_ConfiguredMergeWith(t *testing.T) {
	cfg := &config.ModesConfig{
		Modes: map[string]*config.ModeConfig{
			"task": {Segmentation: config.ModeSegmentation{MergeWith: []string{"solo_task"}}},
		},
	}
	s := testSplitter(cfg)

	merged := s.mergeAdjacent([]Segment{
		{Text: "open the file", Mode: mode.ModeTask},
		{Text: "and tell me its size", Mode: mode.ModeSoloTask},
		{Text: "who are you", Mode: mode.ModeDeepChat},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, mode.ModeTask, merged[0].Mode) // earlier mode wins
	assert.Equal(t, "open the file and tell me its size", merged[0].Text)
	assert.Equal(t, mode.ModeDeepChat, merged[1].Mode)
}

func TestOverrideIdentitySegments(t *testing.T) {
	s := testSplitter(nil)

	out := s.overrideIdentitySegments([]Segment{
		{Text: "скільки буде 2+2", Mode: mode.ModeChat},
		{Text: "і скажи хто ти взагалі", Mode: mode.ModeChat},
	})
	assert.Equal(t, mode.ModeChat, out[0].Mode)
	assert.Equal(t, mode.ModeDeepChat, out[1].Mode)
}
