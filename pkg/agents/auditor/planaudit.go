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

package auditor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/trinitylabs/trinity/pkg/bus"
	"github.com/trinitylabs/trinity/pkg/dispatch"
	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/plan"
)

const cascadeThreshold = 3

// VerifyPlan simulates a plan before execution. On rejection with
// fixIfRejected, an architecture-override pass may produce a corrected plan.
func (a *Auditor) VerifyPlan(ctx context.Context, p *plan.Plan, userRequest string, fixIfRejected bool) *plan.VerificationResult {
	var steps strings.Builder
	for _, step := range p.Steps {
		fmt.Fprintf(&steps, "- [%s] %s (realm=%s, expected: %s)\n",
			step.ID, step.Action, step.Realm, step.ExpectedResult)
	}

	analysis := a.sequentialThink(ctx, fmt.Sprintf(
		`Simulate executing this plan step by step. Identify what breaks and why.
End with sections:
VERDICT: APPROVED|REJECTED
CORE PROBLEMS: semicolon-separated list or "none"
STRATEGIC GAP ANALYSIS: one paragraph
FEEDBACK TO ATLAS: concrete instructions for the planner
SUMMARY_UKRAINIAN: one sentence in Ukrainian

Goal: %s
Plan:
%s`, p.Goal, steps.String()))

	verdict := a.parsePlanVerdict(analysis, p)

	verdict.Issues = compressCascade(verdict.Issues)

	// Creator override: a purely policy-based rejection yields when the
	// request invokes the designated authority.
	if !verdict.Verified && a.mentionsCreator(userRequest) && !hasTechnicalBlockers(verdict.Issues) {
		slog.Info("Creator override applied to plan rejection")
		verdict.Verified = true
		verdict.Description += " (approved under creator override)"
		verdict.Issues = nil
	}

	if !verdict.Verified && fixIfRejected {
		if fixed := a.architectureOverride(ctx, p, verdict); fixed != nil {
			plan.StandardizeVoiceActions(fixed, a.language)
			verdict.FixedPlan = fixed
		}
	}

	return verdict
}

var planVerdictPattern = regexp.MustCompile(`(?i)VERDICT[:\s]+(APPROVED|REJECTED)`)
var problemsPattern = regexp.MustCompile(`(?i)CORE PROBLEMS[:\s]+(.+)`)
var feedbackPattern = regexp.MustCompile(`(?i)FEEDBACK TO ATLAS[:\s]+(.+)`)
var summaryUkPattern = regexp.MustCompile(`(?i)SUMMARY_UKRAINIAN[:\s]+(.+)`)

func (a *Auditor) parsePlanVerdict(analysis string, p *plan.Plan) *plan.VerificationResult {
	verdict := &plan.VerificationResult{Confidence: 0.5}
	if analysis == "" {
		// No reasoning engine: approve non-empty plans, they will be
		// verified per step anyway.
		verdict.Verified = len(p.Steps) > 0
		verdict.Description = "plan verifier unavailable; approved provisionally"
		return verdict
	}

	if m := planVerdictPattern.FindStringSubmatch(analysis); m != nil {
		verdict.Verified = strings.EqualFold(m[1], "APPROVED")
		verdict.Confidence = 0.8
	} else {
		verdict.Verified = true
	}
	if m := problemsPattern.FindStringSubmatch(analysis); m != nil {
		raw := strings.TrimSpace(m[1])
		if !strings.EqualFold(raw, "none") {
			for _, issue := range strings.Split(raw, ";") {
				if issue = strings.TrimSpace(issue); issue != "" {
					verdict.Issues = append(verdict.Issues, issue)
				}
			}
		}
	}
	if m := feedbackPattern.FindStringSubmatch(analysis); m != nil {
		verdict.Description = strings.TrimSpace(m[1])
	}
	if m := summaryUkPattern.FindStringSubmatch(analysis); m != nil {
		verdict.VoiceMessage = strings.TrimSpace(m[1])
	}
	return verdict
}

// compressCascade collapses three or more downstream-blocked issues into a
// single summary so the planner sees the root cause, not the avalanche.
func compressCascade(issues []string) []string {
	var blocked, rest []string
	for _, issue := range issues {
		lower := strings.ToLower(issue)
		if strings.Contains(lower, "blocked") || strings.Contains(lower, "depends on") ||
			strings.Contains(lower, "cannot proceed") {
			blocked = append(blocked, issue)
		} else {
			rest = append(rest, issue)
		}
	}
	if len(blocked) < cascadeThreshold {
		return issues
	}
	summary := fmt.Sprintf("%d downstream steps blocked by the same root cause: %s", len(blocked), blocked[0])
	return append(rest, summary)
}

func (a *Auditor) mentionsCreator(userRequest string) bool {
	lower := strings.ToLower(userRequest)
	for _, phrase := range a.creatorPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// hasTechnicalBlockers distinguishes policy complaints from real execution
// blockers.
func hasTechnicalBlockers(issues []string) bool {
	for _, issue := range issues {
		lower := strings.ToLower(issue)
		for _, marker := range []string{
			"missing", "unknown", "does not exist", "unreachable", "no such",
			"invalid", "dependency", "credential", "permission denied",
		} {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

// knownPrefixLines are chatter the reasoning engine emits before the
// corrected plan JSON.
var knownPrefixLines = []string{
	"here is the corrected plan", "corrected plan:", "fixed plan:",
	"final plan:", "the corrected plan is",
}

// architectureOverride asks for a fully corrected plan and parses it from
// the final raw thought, tolerating markdown fences and prefix chatter.
func (a *Auditor) architectureOverride(ctx context.Context, p *plan.Plan, verdict *plan.VerificationResult) *plan.Plan {
	var steps strings.Builder
	for _, step := range p.Steps {
		fmt.Fprintf(&steps, "- [%s] %s\n", step.ID, step.Action)
	}

	raw := a.sequentialThink(ctx, fmt.Sprintf(
		`The plan was rejected. Produce a corrected plan as JSON {"goal": "...", "steps": [{"id", "action", "voice_action", "expected_result", "realm", "tool", "args"}]}. Output the JSON as your final thought.
Goal: %s
Rejected plan:
%s
Problems: %s`, p.Goal, steps.String(), strings.Join(verdict.Issues, "; ")))
	if raw == "" {
		return nil
	}

	cleaned := stripPrefixChatter(raw)
	var parsed struct {
		Goal  string      `json:"goal"`
		Steps []plan.Step `json:"steps"`
	}
	if err := llm.DecodeJSON(cleaned, &parsed); err != nil || len(parsed.Steps) == 0 {
		slog.Warn("Architecture override produced no usable plan", "error", err)
		return nil
	}

	fixed := plan.New(parsed.Goal)
	if fixed.Goal == "" {
		fixed.Goal = p.Goal
	}
	fixed.Steps = parsed.Steps
	for i := range fixed.Steps {
		if fixed.Steps[i].ID == "" {
			fixed.Steps[i].ID = fmt.Sprintf("%d", i+1)
		}
	}
	return fixed
}

func stripPrefixChatter(raw string) string {
	lines := strings.Split(raw, "\n")
	for len(lines) > 0 {
		line := strings.ToLower(strings.TrimSpace(lines[0]))
		dropped := false
		for _, prefix := range knownPrefixLines {
			if line == "" || strings.HasPrefix(line, prefix) {
				lines = lines[1:]
				dropped = true
				break
			}
		}
		if !dropped {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// reportRejection writes the markdown rejection report, mirrors it to the
// knowledge graph, and publishes the typed bus message the executor reads
// before its retry.
func (a *Auditor) reportRejection(ctx context.Context, step *plan.Step, result *plan.StepResult, verdict *plan.VerificationResult) {
	report := a.renderRejectionReport(step, result, verdict)

	if a.reportsDir != "" {
		if err := os.MkdirAll(a.reportsDir, 0o755); err == nil {
			name := fmt.Sprintf("rejection_step_%s_%d.md", step.ID, time.Now().Unix())
			path := filepath.Join(a.reportsDir, name)
			if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
				slog.Warn("Failed to write rejection report", "path", path, "error", err)
			}
		}
	}

	if a.dispatcher != nil {
		graphResult := a.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
			Tool: "create_entities",
			Args: map[string]any{
				"entities": []map[string]any{{
					"name":         fmt.Sprintf("rejection_step_%s", step.ID),
					"entityType":   "rejection",
					"observations": []string{verdict.Description},
				}},
			},
			ExplicitServer: "graph",
			StepID:         step.ID,
		})
		if !graphResult.Success {
			slog.Debug("Knowledge graph rejection mirror failed", "error", graphResult.Error)
		}
	}

	if a.msgBus != nil {
		a.msgBus.Publish(bus.Message{
			Kind:   bus.KindRejection,
			StepID: step.ID,
			From:   "auditor",
			To:     "executor",
			Text:   report,
		})
	}
}

func (a *Auditor) renderRejectionReport(step *plan.Step, result *plan.StepResult, verdict *plan.VerificationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Step %s rejected\n\n", step.ID)
	fmt.Fprintf(&b, "**Action:** %s\n\n", step.Action)
	fmt.Fprintf(&b, "**Expected result:** %s\n\n", step.ExpectedResult)
	fmt.Fprintf(&b, "**Executor output:** %s\n\n", truncate(result.Result, 1000))
	fmt.Fprintf(&b, "**Verdict:** FAILED (confidence %.2f)\n\n", verdict.Confidence)
	fmt.Fprintf(&b, "**Reasoning:** %s\n", verdict.Description)
	if len(verdict.Issues) > 0 {
		b.WriteString("\n## Issues\n\n")
		for _, issue := range verdict.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	return b.String()
}
