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

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trinitylabs/trinity/pkg/agents/executor"
	"github.com/trinitylabs/trinity/pkg/agents/strategist"
	"github.com/trinitylabs/trinity/pkg/bus"
	"github.com/trinitylabs/trinity/pkg/plan"
	"github.com/trinitylabs/trinity/pkg/segment"
)

const disputeThreshold = 0.7

// runTrinity executes the full plan/verify/execute loop for one segment.
func (o *Orchestrator) runTrinity(ctx context.Context, sessionID, request string, seg segment.Segment) SegmentReport {
	report := SegmentReport{Mode: seg.Mode}

	p := o.buildVerifiedPlan(ctx, request, seg)
	if p == nil {
		o.setState(StateFailed)
		report.Failed = true
		report.Response = "planning failed: no acceptable plan within the replan limit"
		return report
	}

	p.Status = plan.StatusActive
	results, failed := o.executePlan(ctx, sessionID, p)

	o.setState(StateEvaluating)
	evaluation := o.strategist.EvaluateExecution(ctx, p, results)
	report.Evaluation = evaluation
	report.Response = evaluation.FinalReport
	report.Failed = failed || !evaluation.Achieved

	if report.Failed {
		p.Status = plan.StatusFailed
	} else {
		p.Status = plan.StatusCompleted
	}

	if evaluation.ShouldRemember {
		o.rememberOutcome(ctx, p, evaluation)
	}
	if err := o.store.ClearSession(ctx, sessionID); err != nil {
		slog.Warn("Failed to clear session checkpoints", "session", sessionID, "error", err)
	}
	return report
}

// buildVerifiedPlan loops plan synthesis and verification up to the replan
// limit. A disputed critique with high confidence forces the plan through.
func (o *Orchestrator) buildVerifiedPlan(ctx context.Context, request string, seg segment.Segment) *plan.Plan {
	feedback := ""
	for replan := 0; replan <= o.cfg.Orchestrator.ReplanLimit; replan++ {
		o.setState(StatePlanning)
		p, err := o.strategist.CreatePlan(ctx, strategist.PlanRequest{
			Enriched: seg.Text,
			Profile:  seg.Profile,
			Feedback: feedback,
		})
		if err != nil {
			slog.Error("Plan synthesis failed", "error", err)
			return nil
		}

		o.setState(StateVerifyingPlan)
		verdict := o.auditor.VerifyPlan(ctx, p, request, true)
		if verdict.Verified {
			return p
		}
		if verdict.FixedPlan != nil {
			slog.Info("Using auditor's corrected plan")
			return verdict.FixedPlan
		}

		critique := verdict.Description
		if len(verdict.Issues) > 0 {
			critique += "\nIssues: " + strings.Join(verdict.Issues, "; ")
		}
		assessment := o.strategist.AssessPlanCritique(ctx, p, critique)
		if assessment.Action == "DISPUTE" && assessment.Confidence >= disputeThreshold {
			slog.Info("Strategist dispute accepted, forcing plan through",
				"confidence", assessment.Confidence)
			return p
		}
		feedback = critique
	}
	return nil
}

// executePlan runs the steps sequentially with the recovery ladder.
// Returns all recorded results and whether the plan failed.
func (o *Orchestrator) executePlan(ctx context.Context, sessionID string, p *plan.Plan) ([]*plan.StepResult, bool) {
	o.setState(StateExecuting)

	skip := o.ResumePending(ctx, sessionID)
	var results []*plan.StepResult
	if skip > 0 {
		restored, err := o.store.LoadSteps(ctx, sessionID)
		if err == nil {
			results = restored
		}
	}

	for i := range p.Steps {
		if i < len(results) {
			continue // already completed before restart
		}
		if err := ctx.Err(); err != nil {
			return results, true
		}

		step := &p.Steps[i]
		o.voice.Speak(step.VoiceAction)

		result, failed := o.runStep(ctx, sessionID, p, step)
		results = append(results, result)

		if err := o.store.SaveStep(ctx, sessionID, i, result); err != nil {
			slog.Warn("Checkpoint write failed", "session", sessionID, "step", step.ID, "error", err)
		}
		if failed {
			return results, true
		}
	}
	return results, false
}

// runStep drives one step through attempts, consent waits, help routing,
// deviations, verification, and the recovery ladder.
func (o *Orchestrator) runStep(ctx context.Context, sessionID string, p *plan.Plan, step *plan.Step) (*plan.StepResult, bool) {
	helpAnswer := ""

	for attempt := 1; attempt <= o.cfg.Orchestrator.MaxStepAttempts; {
		result := o.executor.ExecuteStep(ctx, step, executor.StepContext{
			Goal:       p.Goal,
			SessionID:  sessionID,
			Attempt:    attempt,
			HelpAnswer: helpAnswer,
		})

		switch outcome := plan.ClassifyResult(result); outcome.Kind {
		case plan.OutcomeNeedInput:
			answer := o.awaitUserInput(ctx, p, outcome.Question)
			if answer == "" {
				return result, true
			}
			o.msgBus.Publish(bus.Message{
				Kind:   bus.KindUserResponse,
				StepID: step.ID,
				From:   "orchestrator",
				To:     "executor",
				Text:   answer,
			})
			o.setState(StateExecuting)
			continue // re-execute same attempt with the answer queued

		case plan.OutcomeProactiveHelp:
			suggestion := o.strategist.HelpExecutor(ctx, step, outcome.Question, "")
			helpAnswer = suggestion.Advice
			attempt++
			continue

		case plan.OutcomeDeviation:
			if o.strategist.EvaluateDeviation(ctx, p, step, outcome.Detail) {
				slog.Info("Deviation approved, skipping step", "step", step.ID)
				result.Success = true
				result.Result = "step skipped by approved deviation: " + outcome.Detail
				return result, false
			}
			attempt++
			helpAnswer = "The proposed deviation was rejected. Complete the step as planned."
			continue

		case plan.OutcomeSuccess:
			verdict := o.auditor.VerifyStep(ctx, step, result, p.Goal, sessionID)
			if verdict.Verified {
				result.VoiceMessage = verdict.VoiceMessage
				return result, false
			}
			helpAnswer = o.recover(ctx, sessionID, p, step, verdict.Description, result)
			attempt++

		case plan.OutcomeFailure:
			if outcome.FailureKind == plan.FailureBlocked {
				result.VoiceMessage = "Дію заблоковано з міркувань безпеки."
				return result, true
			}
			helpAnswer = o.recover(ctx, sessionID, p, step, outcome.Detail, result)
			attempt++
		}
	}

	return &plan.StepResult{
		StepID:    step.ID,
		Error:     fmt.Sprintf("step failed after %d attempts", o.cfg.Orchestrator.MaxStepAttempts),
		Timestamp: time.Now(),
	}, true
}

// awaitUserInput waits in AWAITING_INPUT for the user's answer; on timeout
// the strategist decides on the user's behalf.
func (o *Orchestrator) awaitUserInput(ctx context.Context, p *plan.Plan, question string) string {
	o.setState(StateAwaitingInput)
	o.voice.Speak(question)

	timeout := time.Duration(o.cfg.Orchestrator.UserInputTimeoutSecs) * time.Second
	select {
	case answer := <-o.userInput:
		return answer
	case <-time.After(timeout):
		slog.Info("User input timed out, deciding autonomously", "question", question)
		return o.strategist.DecideForUser(ctx, question, p.Goal)
	case <-ctx.Done():
		return ""
	}
}

// recover runs the recovery ladder for a rejected or failed step and
// returns the advice for the next attempt.
func (o *Orchestrator) recover(ctx context.Context, sessionID string, p *plan.Plan, step *plan.Step, reason string, result *plan.StepResult) string {
	o.setState(StateRecovery)
	defer o.setState(StateExecuting)

	detail := reason
	if result.Error != "" && result.Error != reason {
		detail += "\nExecutor error: " + result.Error
	}
	suggestion := o.strategist.HelpExecutor(ctx, step, detail, "")

	// Discovery steps run immediately, before the retry.
	for i := range suggestion.AlternativeSteps {
		discovery := &suggestion.AlternativeSteps[i]
		if err := ctx.Err(); err != nil {
			break
		}
		slog.Info("Running discovery step before retry", "step", step.ID, "discovery", discovery.Action)
		discoveryResult := o.executor.ExecuteStep(ctx, discovery, executor.StepContext{
			Goal:      p.Goal,
			SessionID: sessionID,
			Attempt:   1,
		})
		if !discoveryResult.Success {
			slog.Warn("Discovery step failed", "error", discoveryResult.Error)
		}
	}

	// Self-heal gate: audit the proposed fix, then let the strategist
	// decide PROCEED, PIVOT or ABORT.
	if suggestion.FixCall != nil {
		fixDescription := fmt.Sprintf("%s on %s with %v",
			suggestion.FixCall.Tool, suggestion.FixCall.Server, suggestion.FixCall.Args)
		auditVerdict := o.auditor.AuditVibeFix(ctx, step, fixDescription)
		decision := o.strategist.EvaluateHealingStrategy(ctx, p.Goal, fixDescription, auditVerdict)
		switch decision {
		case strategist.HealingAbort:
			slog.Warn("Healing strategy aborted", "step", step.ID)
			return "Do not repeat the failed approach. " + suggestion.Advice
		case strategist.HealingPivot:
			return "Pivot to a different approach: " + suggestion.Advice
		default:
			if ok := o.executor.ExecuteFix(ctx, suggestion.FixCall, sessionID, step.ID); !ok {
				slog.Warn("Recovery fix call failed", "step", step.ID)
			}
		}
	}

	return suggestion.Advice
}

// rememberOutcome stores the final report in long-term memory.
func (o *Orchestrator) rememberOutcome(ctx context.Context, p *plan.Plan, evaluation *strategist.Evaluation) {
	o.strategist.Remember(ctx, fmt.Sprintf("Task %q: achieved=%v quality=%.2f. %s",
		p.Goal, evaluation.Achieved, evaluation.QualityScore, evaluation.FinalReport))
}
