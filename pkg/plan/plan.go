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

// Package plan defines the task plan data model shared by all three agents
// and the orchestrator. The orchestrator exclusively owns a plan and its
// results; agents receive snapshots.
package plan

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Plan lifecycle states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Plan is one executable task plan.
type Plan struct {
	ID        string         `json:"id"`
	Goal      string         `json:"goal"`
	Steps     []Step         `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
	Status    Status         `json:"status"`
	Context   map[string]any `json:"context,omitempty"`
}

// New creates an empty pending plan with an opaque id.
func New(goal string) *Plan {
	return &Plan{
		ID:        uuid.NewString(),
		Goal:      goal,
		CreatedAt: time.Now(),
		Status:    StatusPending,
	}
}

// StepByID returns the step with the given id, or nil.
func (p *Plan) StepByID(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// Step is one unit of plan execution. Realm names the target server.
type Step struct {
	ID             string         `json:"id"`
	Action         string         `json:"action"`
	VoiceAction    string         `json:"voice_action"`
	ExpectedResult string         `json:"expected_result,omitempty"`
	Realm          string         `json:"realm,omitempty"`
	Tool           string         `json:"tool,omitempty"`
	Args           map[string]any `json:"args,omitempty"`

	RequiresConsent   bool `json:"requires_consent,omitempty"`
	RequiresUserInput bool `json:"requires_user_input,omitempty"`
	RequiresVision    bool `json:"requires_vision,omitempty"`

	// Artifacts lists file paths the step promises to produce. Preferred
	// over regex extraction from free text during final evaluation.
	Artifacts []string `json:"artifacts,omitempty"`

	// OriginalAction is set when goal-alignment substituted the action.
	OriginalAction string `json:"original_action,omitempty"`
}

// ToolCall is a resolved (server, tool, args) triple recorded in results.
type ToolCall struct {
	Server string         `json:"server,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// Well-known StepResult error markers.
const (
	ErrNeedUserInput    = "need_user_input"
	ErrProactiveHelp    = "proactive_help_requested"
	ErrBlockedByAuditor = "blocked_by_auditor"
	ErrVisionBlocker    = "vision_blocker"
)

// StepResult is the executor's report for one step attempt.
type StepResult struct {
	StepID         string    `json:"step_id"`
	Success        bool      `json:"success"`
	Result         string    `json:"result,omitempty"`
	Error          string    `json:"error,omitempty"`
	ToolCall       *ToolCall `json:"tool_call,omitempty"`
	Thought        string    `json:"thought,omitempty"`
	IsDeviation    bool      `json:"is_deviation,omitempty"`
	DeviationInfo  string    `json:"deviation_info,omitempty"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	VoiceMessage   string    `json:"voice_message,omitempty"`
	Question       string    `json:"question,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// VerificationResult is the auditor's verdict for a step or a whole plan.
type VerificationResult struct {
	StepID             string   `json:"step_id,omitempty"`
	Verified           bool     `json:"verified"`
	Confidence         float64  `json:"confidence"`
	Description        string   `json:"description,omitempty"`
	Issues             []string `json:"issues,omitempty"`
	VoiceMessage       string   `json:"voice_message,omitempty"`
	FixedPlan          *Plan    `json:"fixed_plan,omitempty"`
	ScreenshotAnalyzed bool     `json:"screenshot_analyzed,omitempty"`
}

// OutcomeKind classifies a step result for the orchestrator's match loop.
type OutcomeKind string

const (
	OutcomeSuccess       OutcomeKind = "success"
	OutcomeNeedInput     OutcomeKind = "need_input"
	OutcomeProactiveHelp OutcomeKind = "proactive_help"
	OutcomeDeviation     OutcomeKind = "deviation"
	OutcomeFailure       OutcomeKind = "failure"
)

// FailureKind narrows OutcomeFailure for retry decisions.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailureHard      FailureKind = "hard"
	FailureBlocked   FailureKind = "blocked"
)

// Outcome is the sum type the orchestrator dispatches on. Exactly one kind;
// FailureKind is set only for OutcomeFailure.
type Outcome struct {
	Kind        OutcomeKind
	FailureKind FailureKind
	Detail      string
	Question    string
}

// transientMarkers are network-class error fragments that justify a retry
// with backoff.
var transientMarkers = []string{
	"timeout", "connection refused", "broken pipe", "rate limit",
	"connection reset", "temporarily unavailable",
}

// ClassifyResult folds a StepResult into an Outcome.
func ClassifyResult(res *StepResult) Outcome {
	switch {
	case res.Error == ErrNeedUserInput:
		return Outcome{Kind: OutcomeNeedInput, Question: res.Question, Detail: res.Error}
	case res.Error == ErrProactiveHelp:
		return Outcome{Kind: OutcomeProactiveHelp, Question: res.Question, Detail: res.Error}
	case res.IsDeviation:
		return Outcome{Kind: OutcomeDeviation, Detail: res.DeviationInfo}
	case res.Success:
		return Outcome{Kind: OutcomeSuccess}
	default:
		return Outcome{Kind: OutcomeFailure, FailureKind: classifyFailure(res.Error), Detail: res.Error}
	}
}

func classifyFailure(errText string) FailureKind {
	lower := strings.ToLower(errText)
	if strings.Contains(lower, "blocked") {
		return FailureBlocked
	}
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return FailureTransient
		}
	}
	return FailureHard
}

// IsTransientError reports whether an error string matches the
// network-class retry markers.
func IsTransientError(errText string) bool {
	return classifyFailure(errText) == FailureTransient
}
