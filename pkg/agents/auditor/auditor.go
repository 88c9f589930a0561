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

// Package auditor implements the verification agent: three-phase step
// verification with evidence gathering and a command-relevance invariant,
// pre-execution plan simulation with an optional architecture override, and
// structured rejection reporting.
package auditor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/trinitylabs/trinity/pkg/bus"
	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/dispatch"
	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/observability"
	"github.com/trinitylabs/trinity/pkg/plan"
	"github.com/trinitylabs/trinity/pkg/safety"
	"github.com/trinitylabs/trinity/pkg/toolserver"
)

const maxEvidenceCalls = 4

// Auditor is agent G.
type Auditor struct {
	llms       *llm.Registry
	dispatcher *dispatch.Dispatcher
	manager    *toolserver.Manager
	msgBus     *bus.Bus
	language   string

	creatorPhrases []string
	reportsDir     string
}

func New(llms *llm.Registry, dispatcher *dispatch.Dispatcher, manager *toolserver.Manager, msgBus *bus.Bus, cfg *config.Config) *Auditor {
	a := &Auditor{
		llms:       llms,
		dispatcher: dispatcher,
		manager:    manager,
		msgBus:     msgBus,
		language:   "uk",
	}
	if cfg != nil {
		if cfg.Language != "" {
			a.language = cfg.Language
		}
		a.creatorPhrases = cfg.Auditor.CreatorPhrases
		a.reportsDir = cfg.Auditor.ReportsDir
	}
	return a
}

// CheckCommandSafety screens a shell command before any LLM-based security
// analysis. A blocklist hit is final.
func (a *Auditor) CheckCommandSafety(command string) safety.CheckResult {
	return safety.CheckCommand(command)
}

// VerifyStep runs the three-phase verification of one executed step.
func (a *Auditor) VerifyStep(ctx context.Context, step *plan.Step, result *plan.StepResult, goalContext, sessionID string) *plan.VerificationResult {
	ctx, span := observability.GetTracer("auditor").Start(ctx, observability.SpanVerification)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrStepID, step.ID))

	// Phase 1: goal analysis and evidence tool selection.
	evidenceCalls, analysisNote := a.analyzeVerificationGoal(ctx, step, result)

	// Phase 2: evidence execution.
	evidence := a.collectEvidence(ctx, step, sessionID, evidenceCalls)

	// Phase 3: verdict formation.
	verdict := a.formVerdict(ctx, step, result, goalContext, evidence, analysisNote)

	// Command-relevance invariant: a confirmed verdict must be backed by
	// commands that could actually prove the expected result.
	if verdict.Verified {
		if issue := a.checkCommandRelevance(ctx, step, sessionID); issue != "" {
			verdict.Verified = false
			if verdict.Confidence > 0.3 {
				verdict.Confidence = 0.3
			}
			verdict.Issues = append(verdict.Issues, issue)
			verdict.Description += " Demoted: " + issue
		}
	}

	if !verdict.Verified {
		a.reportRejection(ctx, step, result, verdict)
	}

	verdict.StepID = step.ID
	return verdict
}

type evidenceCall struct {
	Tool   string         `json:"tool"`
	Server string         `json:"server"`
	Args   map[string]any `json:"args"`
	Reason string         `json:"reason"`

	failed bool
	output string
}

// analyzeVerificationGoal determines what to verify and which 1..4 tools
// gather the evidence. A degenerate looping analysis falls back to the
// execution-record audit.
func (a *Auditor) analyzeVerificationGoal(ctx context.Context, step *plan.Step, result *plan.StepResult) ([]evidenceCall, string) {
	analysis := a.sequentialThink(ctx, fmt.Sprintf(
		`Determine how to independently verify this step, then list 1-4 evidence tool calls as JSON {"calls":[{"tool","server","args","reason"}]}.
Step: %s
Expected result: %s
Executor reported: success=%v output=%s`,
		step.Action, step.ExpectedResult, result.Success, truncate(result.Result, 500)))

	if analysis == "" {
		return nil, ""
	}
	if duplicatedLineRatio(analysis) > 0.5 {
		slog.Warn("Verification analysis is looping, auditing via execution records only", "step", step.ID)
		return nil, "analysis loop detected; audit restricted to execution records"
	}

	var parsed struct {
		Calls []evidenceCall `json:"calls"`
	}
	if err := llm.DecodeJSON(analysis, &parsed); err != nil {
		return nil, analysis
	}
	if len(parsed.Calls) > maxEvidenceCalls {
		parsed.Calls = parsed.Calls[:maxEvidenceCalls]
	}
	return parsed.Calls, analysis
}

// duplicatedLineRatio measures how much of the text is repeated lines.
func duplicatedLineRatio(text string) float64 {
	lines := strings.Split(text, "\n")
	var total, duplicated int
	seen := make(map[string]bool)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		total++
		if seen[line] {
			duplicated++
		}
		seen[line] = true
	}
	if total == 0 {
		return 0
	}
	return float64(duplicated) / float64(total)
}

// collectEvidence runs the selected tools through the dispatcher. A success
// with empty output on a data-intensive tool is marked as a failed probe.
func (a *Auditor) collectEvidence(ctx context.Context, step *plan.Step, sessionID string, calls []evidenceCall) []evidenceCall {
	for i := range calls {
		call := &calls[i]
		result := a.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
			Tool:           call.Tool,
			Args:           call.Args,
			ExplicitServer: call.Server,
			SessionID:      sessionID,
			StepID:         step.ID,
		})
		call.output = result.Output
		if !result.Success {
			call.failed = true
			call.output = result.Error
			continue
		}
		if strings.TrimSpace(result.Output) == "" && looksDataIntensive(call.Tool) {
			call.failed = true
			call.output = "tool reported success but returned no data"
		}
	}
	return calls
}

func looksDataIntensive(tool string) bool {
	lower := strings.ToLower(tool)
	for _, marker := range []string{"read", "search", "list", "geocode", "fetch", "query", "get"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var (
	verdictPattern    = regexp.MustCompile(`(?i)VERDICT[:\s]+(CONFIRMED|FAILED)`)
	confidencePattern = regexp.MustCompile(`(?i)CONFIDENCE[:\s]+([0-9.]+)`)
	reasoningPattern  = regexp.MustCompile(`(?i)REASONING[:\s]+(.+)`)
	issuesPattern     = regexp.MustCompile(`(?i)ISSUES[:\s]+(.+)`)
)

// formVerdict asks sequential-thinking for a structured verdict and parses
// it with the regex protocol. The explicit verdict always wins; confidence
// above 1 is read as a percentage; contradictory issues are dropped when
// the verdict is success.
func (a *Auditor) formVerdict(ctx context.Context, step *plan.Step, result *plan.StepResult, goalContext string, evidence []evidenceCall, analysisNote string) *plan.VerificationResult {
	var ev strings.Builder
	for _, call := range evidence {
		status := "ok"
		if call.failed {
			status = "error"
		}
		fmt.Fprintf(&ev, "- %s/%s [%s]: %s\n", call.Server, call.Tool, status, truncate(call.output, 400))
	}

	text := a.sequentialThink(ctx, fmt.Sprintf(
		`Form a verdict on whether the step achieved its expected result, based only on the evidence.
End with lines:
VERDICT: CONFIRMED|FAILED
CONFIDENCE: 0..1
REASONING: one line
ISSUES: semicolon-separated list or "none"

Goal context: %s
Step: %s
Expected result: %s
Executor output: %s
Evidence:
%s
%s`,
		goalContext, step.Action, step.ExpectedResult, truncate(result.Result, 500), ev.String(), analysisNote))

	verdict := &plan.VerificationResult{
		Confidence:   0.5,
		Description:  "verification inconclusive",
		VoiceMessage: a.voice("Не змогла перевірити крок.", "Could not verify the step."),
	}
	if text == "" {
		// No reasoning engine available: trust the executor but say so.
		verdict.Verified = result.Success
		verdict.Description = "verifier unavailable; executor result accepted provisionally"
		return verdict
	}

	if m := verdictPattern.FindStringSubmatch(text); m != nil {
		verdict.Verified = strings.EqualFold(m[1], "CONFIRMED")
	} else {
		verdict.Verified = result.Success && !anyEvidenceFailed(evidence)
	}
	if m := confidencePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(strings.TrimRight(m[1], "."), 64); err == nil {
			if v > 1 {
				v /= 100
			}
			verdict.Confidence = v
		}
	}
	if m := reasoningPattern.FindStringSubmatch(text); m != nil {
		verdict.Description = strings.TrimSpace(m[1])
	}
	if m := issuesPattern.FindStringSubmatch(text); m != nil {
		raw := strings.TrimSpace(m[1])
		if !strings.EqualFold(raw, "none") {
			for _, issue := range strings.Split(raw, ";") {
				if issue = strings.TrimSpace(issue); issue != "" {
					verdict.Issues = append(verdict.Issues, issue)
				}
			}
		}
	}
	if verdict.Verified {
		verdict.Issues = filterContradictoryIssues(verdict.Issues)
		verdict.VoiceMessage = a.voice("Крок підтверджено.", "Step confirmed.")
	} else {
		verdict.VoiceMessage = a.voice("Крок не пройшов перевірку.", "Step failed verification.")
	}
	return verdict
}

func anyEvidenceFailed(evidence []evidenceCall) bool {
	for _, call := range evidence {
		if call.failed {
			return true
		}
	}
	return false
}

// filterContradictoryIssues drops hard-failure wording from a confirmed
// verdict; leftovers are advisory.
func filterContradictoryIssues(issues []string) []string {
	var kept []string
	for _, issue := range issues {
		lower := strings.ToLower(issue)
		if strings.Contains(lower, "failed") || strings.Contains(lower, "did not") ||
			strings.Contains(lower, "не вдалося") {
			continue
		}
		kept = append(kept, issue)
	}
	return kept
}

// relevanceRules map expected-result keywords to command patterns that can
// actually prove them.
var relevanceRules = []struct {
	expectation *regexp.Regexp
	command     *regexp.Regexp
	hint        string
}{
	{
		regexp.MustCompile(`(?i)bridged.{0,20}network|network.{0,20}bridge`),
		regexp.MustCompile(`(?i)\b(ip|ifconfig|netstat|VBoxManage)\b`),
		"missing `VBoxManage showvminfo`/`ip a`",
	},
	{
		regexp.MustCompile(`(?i)file (exists|created|written)|файл (створено|записано)`),
		regexp.MustCompile(`(?i)\b(ls|stat|cat|test -[ef]|find)\b`),
		"missing `ls`/`stat`/`cat`",
	},
	{
		regexp.MustCompile(`(?i)process (running|started)|service (running|started)`),
		regexp.MustCompile(`(?i)\b(ps|pgrep|launchctl|systemctl|lsof)\b`),
		"missing `ps`/`pgrep`",
	},
	{
		regexp.MustCompile(`(?i)port (open|listening)`),
		regexp.MustCompile(`(?i)\b(lsof|netstat|nc|curl)\b`),
		"missing `lsof -i`/`netstat`",
	},
}

// checkCommandRelevance compares the commands actually executed for the
// step with what the expected result demanded. Returns an issue string
// when the evidence could not possibly prove the expectation.
func (a *Auditor) checkCommandRelevance(ctx context.Context, step *plan.Step, sessionID string) string {
	if a.manager == nil || step.ExpectedResult == "" {
		return ""
	}
	records, err := a.manager.ExecRecordsForStep(ctx, sessionID, step.ID)
	if err != nil || len(records) == 0 {
		return ""
	}

	var commands []string
	for _, record := range records {
		if record.Command != "" {
			commands = append(commands, record.Command)
		}
	}
	if len(commands) == 0 {
		return ""
	}
	executed := strings.Join(commands, "\n")

	for _, rule := range relevanceRules {
		if !rule.expectation.MatchString(step.ExpectedResult) {
			continue
		}
		if !rule.command.MatchString(executed) {
			return fmt.Sprintf("irrelevant command: %s", rule.hint)
		}
	}
	return ""
}

// AuditVibeFix reviews a self-heal proposal before the strategist gates it.
func (a *Auditor) AuditVibeFix(ctx context.Context, step *plan.Step, fixDescription string) string {
	text := a.sequentialThink(ctx, fmt.Sprintf(
		"Audit this proposed automated fix for safety and relevance. Step: %s\nFix: %s\nEnd with VERDICT: CONFIRMED|FAILED and one line of reasoning.",
		step.Action, fixDescription))
	if text == "" {
		return "VERDICT: CONFIRMED\nno auditor available"
	}
	return text
}

func (a *Auditor) sequentialThink(ctx context.Context, thought string) string {
	if a.dispatcher == nil {
		return ""
	}
	result := a.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
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

func (a *Auditor) voice(uk, en string) string {
	if a.language == "uk" {
		return uk
	}
	return en
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "…"
}
