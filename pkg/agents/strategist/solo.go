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

package strategist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/trinitylabs/trinity/pkg/dispatch"
	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/mode"
)

// DefaultSoloTurnLimit bounds the tool-call loop of a solo task.
const DefaultSoloTurnLimit = 5

// SoloResult is the outcome of a solo task run.
type SoloResult struct {
	Response  string
	ToolCalls int
	Turns     int
}

// RunSoloTask handles a segment with tool access but no plan: a multi-turn
// loop where each turn either issues one tool call or answers. Stops when
// the model answers or the turn limit is reached.
func (s *Strategist) RunSoloTask(ctx context.Context, profile *mode.Profile, request string, turnLimit int) (*SoloResult, error) {
	if turnLimit <= 0 {
		turnLimit = DefaultSoloTurnLimit
	}

	provider, err := s.llms.ForTier(llm.TierStandard)
	if err != nil {
		return nil, err
	}

	background := s.gatherContext(ctx, request)

	var b strings.Builder
	fmt.Fprintf(&b, "You complete small tasks using tools, answering in language '%s'.\n", s.language)
	b.WriteString(`Each turn reply with JSON only, either {"tool": "...", "server": "...", "args": {...}} to call a tool or {"response": "final answer"}.` + "\n\n")
	if s.registry != nil {
		b.WriteString(s.registry.CatalogForPrompt(true))
	}
	if background != "" {
		b.WriteString("\n\nBackground:\n" + background)
	}

	messages := []llm.Message{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: request},
	}

	result := &SoloResult{}
	for turn := 0; turn < turnLimit; turn++ {
		result.Turns = turn + 1

		resp, err := provider.Generate(ctx, llm.TruncateHistory(messages, 12000))
		if err != nil {
			return nil, err
		}

		var move struct {
			Tool     string         `json:"tool"`
			Server   string         `json:"server"`
			Args     map[string]any `json:"args"`
			Response string         `json:"response"`
		}
		if err := llm.DecodeJSON(resp.Text, &move); err != nil || (move.Tool == "" && move.Response == "") {
			// Not JSON means the model just answered.
			result.Response = strings.TrimSpace(resp.Text)
			return result, nil
		}
		if move.Tool == "" {
			result.Response = move.Response
			return result, nil
		}

		result.ToolCalls++
		callResult := s.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
			Tool:           move.Tool,
			Args:           move.Args,
			ExplicitServer: move.Server,
		})

		observation := callResult.Output
		if !callResult.Success {
			observation = "ERROR: " + callResult.Error
		}
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Text},
			llm.Message{Role: "user", Content: fmt.Sprintf("Tool result (%s/%s): %s", callResult.Server, callResult.Tool, truncate(observation, 2000))},
		)
	}

	slog.Warn("Solo task hit turn limit", "turns", turnLimit)
	result.Response = s.defaultDecision()
	return result, nil
}

// gatherContext fans out the background lookups (memory recall, knowledge
// graph, recent paths) and joins them. Failures only shrink the context.
func (s *Strategist) gatherContext(ctx context.Context, request string) string {
	if s.dispatcher == nil {
		return ""
	}

	var memoryOut, graphOut string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result := s.dispatcher.ResolveAndDispatch(gctx, dispatch.Call{
			Tool:           "search_memory",
			Args:           map[string]any{"query": request, "limit": 2},
			ExplicitServer: "memory",
		})
		if result.Success {
			memoryOut = result.Output
		}
		return nil
	})
	g.Go(func() error {
		result := s.dispatcher.ResolveAndDispatch(gctx, dispatch.Call{
			Tool:           "search_nodes",
			Args:           map[string]any{"query": request},
			ExplicitServer: "graph",
		})
		if result.Success {
			graphOut = result.Output
		}
		return nil
	})
	_ = g.Wait()

	var sections []string
	if memoryOut != "" {
		sections = append(sections, "Memory:\n"+truncate(memoryOut, 1000))
	}
	if graphOut != "" {
		sections = append(sections, "Knowledge graph:\n"+truncate(graphOut, 1000))
	}
	if s.shared != nil {
		if paths := s.shared.RecentPaths(); len(paths) > 0 {
			sections = append(sections, "Recent paths: "+strings.Join(paths, ", "))
		}
	}
	return strings.Join(sections, "\n\n")
}
