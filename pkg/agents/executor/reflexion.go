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

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trinitylabs/trinity/pkg/dispatch"
	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/plan"
	"github.com/trinitylabs/trinity/pkg/toolserver"
)

// executeWithReflexion dispatches the call and runs the bounded fix loop:
// transient errors retry with linear backoff, repeated failures escalate to
// deep reasoning (possibly a deviation), the last fix invokes the
// code-analysis self-heal, anything else gets an LLM-proposed targeted fix.
func (e *Executor) executeWithReflexion(ctx context.Context, step *plan.Step, sc StepContext, call dispatch.Call, thought, userResponse string) *plan.StepResult {
	call.SessionID = sc.SessionID

	failures := 0
	lastError := ""

	for fix := 0; fix <= MaxFixes; fix++ {
		result := e.dispatcher.ResolveAndDispatch(ctx, call)
		result = e.detectEmptyProof(call, result)

		if result.Success {
			return &plan.StepResult{
				Success:  true,
				Result:   result.Output,
				Thought:  thought,
				ToolCall: &plan.ToolCall{Server: result.Server, Tool: result.Tool, Args: call.Args},
			}
		}

		failures++
		lastError = result.Error

		// Hard failures are never retried with the same tool.
		switch result.Tag {
		case dispatch.TagHallucinated, dispatch.TagUnknownTool, dispatch.TagBlocked:
			return &plan.StepResult{
				Error:    result.Error,
				Thought:  thought,
				ToolCall: &plan.ToolCall{Server: result.Server, Tool: result.Tool, Args: call.Args},
			}
		}

		if fix == MaxFixes {
			break
		}

		// Transient errors: linear backoff, same call.
		if result.Tag == toolserver.TagTimeout || plan.IsTransientError(result.Error) {
			delay := time.Duration(fix+1) * e.backoffUnit
			slog.Info("Transient tool error, retrying",
				"step", step.ID, "fix", fix+1, "delay", delay, "error", result.Error)
			select {
			case <-ctx.Done():
				return &plan.StepResult{Error: ctx.Err().Error(), Thought: thought}
			case <-time.After(delay):
			}
			continue
		}

		// After two failures, reason deeply; the model may propose a
		// deviation instead of another fix.
		if failures >= 2 {
			deviation := e.deepReasoning(ctx, step, sc, lastError)
			if deviation != "" {
				return &plan.StepResult{
					IsDeviation:   true,
					DeviationInfo: deviation,
					Error:         lastError,
					Thought:       thought,
					VoiceMessage:  e.voice("Цей шлях заблоковано, пропоную інший підхід.", "This path is blocked, proposing another approach."),
				}
			}
		}

		// Last fix before giving up: code-analysis self-heal, then one
		// re-execution of the original call.
		if fix == MaxFixes-1 {
			e.selfHeal(ctx, step, lastError)
			continue
		}

		// Targeted fix proposed by the LLM.
		fixCall, ok := e.proposeFix(ctx, step, call, lastError)
		if ok {
			fixResult := e.dispatcher.ResolveAndDispatch(ctx, fixCall)
			if !fixResult.Success {
				slog.Debug("Targeted fix failed", "step", step.ID, "error", fixResult.Error)
			}
		}
	}

	return &plan.StepResult{
		Error:        lastError,
		Thought:      thought,
		VoiceMessage: e.voice("Крок не вдався після кількох спроб виправлення.", "The step failed after several fix attempts."),
	}
}

// detectEmptyProof downgrades a success with empty output on a
// data-intensive tool to a soft failure.
func (e *Executor) detectEmptyProof(call dispatch.Call, result *dispatch.Result) *dispatch.Result {
	if !result.Success || strings.TrimSpace(result.Output) != "" {
		return result
	}
	if !isDataIntensive(result.Tool) {
		return result
	}
	downgraded := *result
	downgraded.Success = false
	downgraded.Error = fmt.Sprintf(
		"tool '%s' reported success but returned no data; treat as unproven", result.Tool)
	slog.Warn("Empty proof detected", "tool", result.Tool, "server", result.Server)
	return &downgraded
}

func isDataIntensive(tool string) bool {
	lower := strings.ToLower(tool)
	for _, marker := range dataIntensiveTools {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// deepReasoning asks the deep model whether to deviate. Empty means keep
// fixing.
func (e *Executor) deepReasoning(ctx context.Context, step *plan.Step, sc StepContext, lastError string) string {
	provider, err := e.llms.ForTier(llm.TierDeep)
	if err != nil {
		return ""
	}
	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: `The step keeps failing. Decide: keep fixing, or deviate (skip or alternative approach). Reply with JSON only: {"deviate": bool, "deviation": "what to do instead" | null}.`},
		{Role: "user", Content: fmt.Sprintf("Goal: %s\nStep: %s\nRepeated error: %s", sc.Goal, step.Action, lastError)},
	})
	if err != nil {
		return ""
	}
	var verdict struct {
		Deviate   bool   `json:"deviate"`
		Deviation string `json:"deviation"`
	}
	if err := llm.DecodeJSON(resp.Text, &verdict); err != nil {
		return ""
	}
	if verdict.Deviate && verdict.Deviation != "" {
		return verdict.Deviation
	}
	return ""
}

// selfHeal invokes the code-analysis collaborator with auto_fix enabled.
func (e *Executor) selfHeal(ctx context.Context, step *plan.Step, lastError string) {
	result := e.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
		Tool: "vibe_analyze_error",
		Args: map[string]any{
			"error":    lastError,
			"context":  step.Action,
			"auto_fix": true,
		},
		ExplicitServer: "vibe",
		StepID:         step.ID,
	})
	if result.Success {
		slog.Info("Self-heal applied", "step", step.ID)
	} else {
		slog.Warn("Self-heal failed", "step", step.ID, "error", result.Error)
	}
}

// proposeFix asks for one targeted fix action for the current error.
func (e *Executor) proposeFix(ctx context.Context, step *plan.Step, original dispatch.Call, lastError string) (dispatch.Call, bool) {
	provider, err := e.llms.ForTier(llm.TierStandard)
	if err != nil {
		return dispatch.Call{}, false
	}
	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: `Propose one tool call that fixes the error's cause (create a missing directory, free a port, install a dependency). Reply with JSON only: {"tool": "...", "server": "...", "args": {...}} or {"tool": null}.`},
		{Role: "user", Content: fmt.Sprintf("Step: %s\nFailed call: %s on %s\nError: %s", step.Action, original.Tool, original.ExplicitServer, lastError)},
	})
	if err != nil {
		return dispatch.Call{}, false
	}
	var fix struct {
		Tool   string         `json:"tool"`
		Server string         `json:"server"`
		Args   map[string]any `json:"args"`
	}
	if err := llm.DecodeJSON(resp.Text, &fix); err != nil || fix.Tool == "" {
		return dispatch.Call{}, false
	}
	return dispatch.Call{Tool: fix.Tool, Args: fix.Args, ExplicitServer: fix.Server, StepID: step.ID}, true
}

// ExecuteFix runs a recovery tool call proposed by the strategist.
func (e *Executor) ExecuteFix(ctx context.Context, call *plan.ToolCall, sessionID, stepID string) bool {
	if call == nil || call.Tool == "" {
		return false
	}
	result := e.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
		Tool:           call.Tool,
		Args:           call.Args,
		ExplicitServer: call.Server,
		SessionID:      sessionID,
		StepID:         stepID,
	})
	return result.Success
}

func (e *Executor) voice(uk, en string) string {
	if e.language == "uk" {
		return uk
	}
	return en
}
