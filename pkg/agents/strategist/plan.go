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
	"regexp"
	"strconv"
	"strings"

	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/mode"
	"github.com/trinitylabs/trinity/pkg/plan"
)

// PlanRequest carries everything create_plan needs.
type PlanRequest struct {
	Enriched string
	Profile  *mode.Profile

	// Feedback holds auditor critique or a failed plan from a previous
	// round; included verbatim in the simulation phase.
	Feedback string
}

// CreatePlan synthesizes a task plan in five phases: memory recall, deep
// simulation, prompt assembly, LLM synthesis, post-processing with
// self-audit.
func (s *Strategist) CreatePlan(ctx context.Context, req PlanRequest) (*plan.Plan, error) {
	recalled := s.recallPlanContext(ctx, req.Enriched)

	simulation := ""
	if req.Profile == nil || req.Profile.UseSequentialThinking || req.Feedback != "" {
		prompt := fmt.Sprintf("Simulate executing this task and list risks, unknowns and ordering constraints in English: %s", req.Enriched)
		if req.Feedback != "" {
			prompt += "\n\nPrevious attempt feedback:\n" + req.Feedback
		}
		simulation = s.sequentialThink(ctx, prompt)
	}

	issues := ""
	for retry := 0; ; retry++ {
		p, err := s.synthesizePlan(ctx, req, recalled, simulation, issues)
		if err != nil {
			return nil, err
		}

		if len(p.Steps) == 0 {
			if retry >= planRetryLimit {
				return nil, fmt.Errorf("plan synthesis produced no steps after %d attempts", retry+1)
			}
			// Meta-planning fallback: research first, then retry.
			research := s.sequentialThink(ctx,
				"The planner produced zero steps. What discovery actions would unblock planning for: "+req.Enriched)
			simulation = strings.TrimSpace(simulation + "\n" + research)
			continue
		}

		plan.StandardizeVoiceActions(p, s.language)

		confidence, auditIssues := s.selfAuditPlan(ctx, p)
		if confidence >= selfAuditThreshold || retry >= planRetryLimit {
			if confidence < selfAuditThreshold {
				slog.Warn("Accepting plan below self-audit threshold",
					"confidence", confidence, "retries", retry)
			}
			return p, nil
		}
		issues = auditIssues
		slog.Info("Regenerating plan after self-audit",
			"confidence", confidence, "issues", auditIssues)
	}
}

func (s *Strategist) synthesizePlan(ctx context.Context, req PlanRequest, recalled, simulation, issues string) (*plan.Plan, error) {
	provider, err := s.llms.ForTier(llm.TierDeep)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(s.doctrineFor(req.Profile))
	b.WriteString("\n\nReply with JSON only: {\"goal\": \"...\", \"steps\": [{\"id\", \"action\", \"voice_action\", \"expected_result\", \"realm\", \"tool\", \"args\", \"requires_consent\", \"requires_user_input\", \"requires_vision\", \"artifacts\"}]}.\n")
	fmt.Fprintf(&b, "voice_action must be a short spoken phrase in language '%s'.\n", s.language)
	b.WriteString("Assign realm only to servers marked ACTIVE below.\n\n")
	if s.registry != nil {
		b.WriteString(s.registry.CatalogForPrompt(true))
	}
	if recalled != "" {
		b.WriteString("\n\n" + recalled)
	}
	if simulation != "" {
		b.WriteString("\n\nSimulation notes:\n" + simulation)
	}
	if issues != "" {
		b.WriteString("\n\nFix these issues from the previous draft:\n" + issues)
	}

	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: req.Enriched},
	})
	if err != nil {
		return nil, fmt.Errorf("plan synthesis failed: %w", err)
	}

	var parsed struct {
		Goal  string      `json:"goal"`
		Steps []plan.Step `json:"steps"`
	}
	if err := llm.DecodeJSON(resp.Text, &parsed); err != nil {
		return nil, fmt.Errorf("plan synthesis returned invalid JSON: %w", err)
	}

	p := plan.New(parsed.Goal)
	if p.Goal == "" {
		p.Goal = req.Enriched
	}
	p.Steps = parsed.Steps
	for i := range p.Steps {
		if p.Steps[i].ID == "" {
			p.Steps[i].ID = strconv.Itoa(i + 1)
		}
	}
	return p, nil
}

func (s *Strategist) doctrineFor(profile *mode.Profile) string {
	if profile != nil && profile.Mode == mode.ModeDevelopment {
		return "You plan software development work. Follow the SDLC: understand the code first, change it in small verifiable increments, run the relevant checks after each change, and never claim completion without evidence from the working tree."
	}
	return "You plan desktop automation tasks. Prefer few, concrete, independently verifiable steps. Discover unknown facts (paths, addresses, identifiers) with explicit discovery steps before acting on them."
}

// selfAuditPlan asks sequential-thinking for gaps and parses a confidence.
func (s *Strategist) selfAuditPlan(ctx context.Context, p *plan.Plan) (float64, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit this plan for goal %q. Check: discovery gaps (unknown IPs, paths, credentials), realm validity, dependency order, completeness. End with a line CONFIDENCE: <0..1> and list concrete issues.\n", p.Goal)
	for _, step := range p.Steps {
		fmt.Fprintf(&b, "- [%s] %s (realm=%s tool=%s)\n", step.ID, step.Action, step.Realm, step.Tool)
	}

	analysis := s.sequentialThink(ctx, b.String())
	if analysis == "" {
		return 1.0, ""
	}
	return parseConfidence(analysis), analysis
}

var confidencePattern = regexp.MustCompile(`(?i)confidence[:\s]+([0-9.]+)`)

func parseConfidence(text string) float64 {
	m := confidencePattern.FindStringSubmatch(text)
	if m == nil {
		return 1.0
	}
	v, err := strconv.ParseFloat(strings.TrimRight(m[1], "."), 64)
	if err != nil {
		return 1.0
	}
	if v > 1 {
		v /= 100
	}
	return v
}

// CritiqueAssessment is the assess_plan_critique verdict.
type CritiqueAssessment struct {
	Action     string  `json:"action"` // ACCEPT or DISPUTE
	Argument   string  `json:"argument,omitempty"`
	Confidence float64 `json:"confidence"`
}

// AssessPlanCritique weighs the auditor's rejection. ACCEPT triggers plan
// regeneration; DISPUTE with high confidence forces an orchestrator
// override.
func (s *Strategist) AssessPlanCritique(ctx context.Context, p *plan.Plan, critique string) *CritiqueAssessment {
	accept := &CritiqueAssessment{Action: "ACCEPT", Confidence: 0.5}

	provider, err := s.llms.ForTier(llm.TierDeep)
	if err != nil {
		return accept
	}

	var steps strings.Builder
	for _, step := range p.Steps {
		fmt.Fprintf(&steps, "- [%s] %s\n", step.ID, step.Action)
	}

	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: `You authored a plan that was rejected. Decide whether the critique is valid. Reply with JSON only: {"action": "ACCEPT|DISPUTE", "argument": "...", "confidence": 0..1}.`},
		{Role: "user", Content: fmt.Sprintf("Goal: %s\nSteps:\n%s\nCritique:\n%s", p.Goal, steps.String(), critique)},
	})
	if err != nil {
		return accept
	}

	var assessment CritiqueAssessment
	if err := llm.DecodeJSON(resp.Text, &assessment); err != nil {
		return accept
	}
	if assessment.Action != "DISPUTE" {
		assessment.Action = "ACCEPT"
	}
	return &assessment
}

// RecoverySuggestion is the help_tetyana output: either a direct fix call
// or replacement steps, always with advice text.
type RecoverySuggestion struct {
	FixCall          *plan.ToolCall `json:"fix_call,omitempty"`
	AlternativeSteps []plan.Step    `json:"alternative_steps,omitempty"`
	Advice           string         `json:"advice"`
}

// HelpExecutor produces a recovery suggestion for a stuck step. The
// auditor's rejection report, when available, is included in the prompt.
func (s *Strategist) HelpExecutor(ctx context.Context, step *plan.Step, errText, rejectionReport string) *RecoverySuggestion {
	fallback := &RecoverySuggestion{Advice: "Retry the step once the environment settles."}

	provider, err := s.llms.ForTier(llm.TierDeep)
	if err != nil {
		return fallback
	}

	prompt := fmt.Sprintf("Step [%s] %q failed with: %s\nExpected result: %s\n", step.ID, step.Action, errText, step.ExpectedResult)
	if rejectionReport != "" {
		prompt += "\nAuditor rejection report:\n" + rejectionReport
	}
	if s.registry != nil {
		prompt += "\n\n" + s.registry.CatalogForPrompt(false)
	}

	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: `Help the executor recover. Reply with JSON only: {"advice": "...", "fix_call": {"server", "tool", "args"} | null, "alternative_steps": [{"id", "action", "voice_action", "expected_result", "realm", "tool", "args"}]}.`},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return fallback
	}

	var suggestion RecoverySuggestion
	if err := llm.DecodeJSON(resp.Text, &suggestion); err != nil {
		return fallback
	}
	if suggestion.Advice == "" {
		suggestion.Advice = fallback.Advice
	}
	return &suggestion
}

// Evaluation is the evaluate_execution output.
type Evaluation struct {
	Achieved       bool     `json:"achieved"`
	QualityScore   float64  `json:"quality_score"`
	ShouldRemember bool     `json:"should_remember"`
	FinalReport    string   `json:"final_report"`
	MissingFiles   []string `json:"missing_files,omitempty"`
}

// EvaluateExecution produces the authoritative final verdict. The artifact
// verification override runs after the LLM: a claimed file that does not
// exist on disk forces achieved=false and caps the score at 0.3 no matter
// what the step results said.
func (s *Strategist) EvaluateExecution(ctx context.Context, p *plan.Plan, results []*plan.StepResult) *Evaluation {
	eval := s.llmEvaluate(ctx, p, results)

	var resultTexts []string
	for _, res := range results {
		resultTexts = append(resultTexts, res.Result)
	}
	claimed := plan.DeclaredArtifacts(p, resultTexts)
	missing := plan.MissingArtifacts(claimed)
	if len(missing) > 0 {
		eval.Achieved = false
		if eval.QualityScore > 0.3 {
			eval.QualityScore = 0.3
		}
		eval.MissingFiles = missing
		eval.FinalReport = fmt.Sprintf(
			"%s\n\nArtifact verification failed: missing files %s.",
			eval.FinalReport, strings.Join(missing, ", "))
		slog.Warn("Artifact verification override", "missing", missing)
	}
	return eval
}

func (s *Strategist) llmEvaluate(ctx context.Context, p *plan.Plan, results []*plan.StepResult) *Evaluation {
	succeeded := 0
	var summary strings.Builder
	for _, res := range results {
		status := "FAILED"
		if res.Success {
			status = "OK"
			succeeded++
		}
		fmt.Fprintf(&summary, "- step %s: %s %s\n", res.StepID, status, truncate(res.Result, 300))
	}

	fallback := &Evaluation{
		Achieved:     len(results) > 0 && succeeded == len(results),
		QualityScore: safeRatio(succeeded, len(results)),
		FinalReport:  fmt.Sprintf("%d/%d steps succeeded.", succeeded, len(results)),
	}

	provider, err := s.llms.ForTier(llm.TierDeep)
	if err != nil {
		return fallback
	}

	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: fmt.Sprintf(`Evaluate whether the goal was achieved. Reply with JSON only: {"achieved": bool, "quality_score": 0..1, "should_remember": bool, "final_report": "report in language '%s'"}.`, s.language)},
		{Role: "user", Content: fmt.Sprintf("Goal: %s\n\nStep results:\n%s", p.Goal, summary.String())},
	})
	if err != nil {
		return fallback
	}

	var eval Evaluation
	if err := llm.DecodeJSON(resp.Text, &eval); err != nil {
		return fallback
	}
	if eval.FinalReport == "" {
		eval.FinalReport = fallback.FinalReport
	}
	return &eval
}

// EvaluateDeviation decides whether a proposed plan deviation is approved.
func (s *Strategist) EvaluateDeviation(ctx context.Context, p *plan.Plan, step *plan.Step, deviationInfo string) bool {
	provider, err := s.llms.ForTier(llm.TierStandard)
	if err != nil {
		return false
	}
	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: `The executor proposes deviating from the plan. Reply with JSON only: {"approved": bool, "reason": "..."}.`},
		{Role: "user", Content: fmt.Sprintf("Goal: %s\nBlocked step: %s\nProposed deviation: %s", p.Goal, step.Action, deviationInfo)},
	})
	if err != nil {
		return false
	}
	var verdict struct {
		Approved bool `json:"approved"`
	}
	if err := llm.DecodeJSON(resp.Text, &verdict); err != nil {
		return false
	}
	return verdict.Approved
}

// Healing gate decisions.
const (
	HealingProceed = "PROCEED"
	HealingPivot   = "PIVOT"
	HealingAbort   = "ABORT"
)

// EvaluateHealingStrategy gates a proposed self-heal fix.
func (s *Strategist) EvaluateHealingStrategy(ctx context.Context, goal, fixDescription, auditVerdict string) string {
	provider, err := s.llms.ForTier(llm.TierStandard)
	if err != nil {
		return HealingProceed
	}
	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: `A self-heal fix was proposed and audited. Reply with JSON only: {"decision": "PROCEED|PIVOT|ABORT", "reason": "..."}.`},
		{Role: "user", Content: fmt.Sprintf("Goal: %s\nProposed fix: %s\nAudit verdict: %s", goal, fixDescription, auditVerdict)},
	})
	if err != nil {
		return HealingProceed
	}
	var verdict struct {
		Decision string `json:"decision"`
	}
	if err := llm.DecodeJSON(resp.Text, &verdict); err != nil {
		return HealingProceed
	}
	switch verdict.Decision {
	case HealingPivot, HealingAbort:
		return verdict.Decision
	default:
		return HealingProceed
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "…"
}

func safeRatio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
