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

// Package executor implements the step execution agent: consent gating,
// goal-alignment validation, vision pre-checks, reasoned tool proposals,
// dispatch, empty-proof detection, and the bounded technical reflexion loop.
// Errors inside a step are absorbed here and surface only as typed results.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/trinitylabs/trinity/pkg/bus"
	"github.com/trinitylabs/trinity/pkg/dispatch"
	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/observability"
	"github.com/trinitylabs/trinity/pkg/plan"
	"github.com/trinitylabs/trinity/pkg/schema"
	"github.com/trinitylabs/trinity/pkg/sharedctx"
)

const (
	// MaxFixes bounds the reflexion loop.
	MaxFixes = 3

	retryBackoffUnit = 2 * time.Second
)

// Executor is agent T.
type Executor struct {
	llms       *llm.Registry
	dispatcher *dispatch.Dispatcher
	msgBus     *bus.Bus
	shared     *sharedctx.Context
	registry   *schema.Registry
	language   string

	// backoffUnit is swappable in tests.
	backoffUnit time.Duration
}

func New(llms *llm.Registry, dispatcher *dispatch.Dispatcher, msgBus *bus.Bus, shared *sharedctx.Context, registry *schema.Registry, language string) *Executor {
	if language == "" {
		language = "uk"
	}
	return &Executor{
		llms:        llms,
		dispatcher:  dispatcher,
		msgBus:      msgBus,
		shared:      shared,
		registry:    registry,
		language:    language,
		backoffUnit: retryBackoffUnit,
	}
}

// StepContext carries everything beyond the step itself.
type StepContext struct {
	Goal      string
	SessionID string
	Attempt   int

	// HelpAnswer is the strategist's reply to a previous proactive help
	// request, fed into the reasoning prompt.
	HelpAnswer string
}

// infoGatheringVerbs suppress the consent gate: reading never needs
// permission.
var infoGatheringVerbs = []string{
	"search", "find", "list", "read", "check", "get", "fetch", "show",
	"look", "query", "знайди", "прочитай", "перевір", "покажи", "подивись",
}

// dataIntensiveTools must produce output on success; empty output is a soft
// failure.
var dataIntensiveTools = []string{
	"read", "search", "list", "geocode", "fetch", "query", "get",
}

// ExecuteStep runs one step attempt and always returns a result, never an
// error: every failure mode is folded into StepResult.
func (e *Executor) ExecuteStep(ctx context.Context, step *plan.Step, sc StepContext) *plan.StepResult {
	ctx, span := observability.GetTracer("executor").Start(ctx, observability.SpanStepExecution)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrStepID, step.ID))

	result := e.executeStep(ctx, step, sc)
	result.StepID = step.ID
	result.Timestamp = time.Now()
	return result
}

func (e *Executor) executeStep(ctx context.Context, step *plan.Step, sc StepContext) *plan.StepResult {
	// Bus messages are read synchronously before anything else so a
	// rejection for attempt N always precedes retry N+1.
	userResponse := e.drainUserResponse(step.ID)
	rejectionFeedback := e.drainRejections(step.ID)

	// 1. Consent gate.
	if (step.RequiresConsent || step.RequiresUserInput) && userResponse == "" && !isInfoGathering(step.Action) {
		return &plan.StepResult{
			Error:        plan.ErrNeedUserInput,
			Question:     e.questionFor(step),
			VoiceMessage: e.voice("Мені потрібна твоя відповідь, щоб продовжити.", "I need your answer to continue."),
		}
	}

	// 2. Goal-alignment validation on the first attempt.
	if sc.Attempt <= 1 && sc.Goal != "" {
		e.validateGoalAlignment(ctx, step, sc.Goal)
	}

	// 3. Vision pre-check.
	var visionCoords map[string]any
	if step.RequiresVision && sc.Attempt <= 2 {
		coords, blocker := e.visionPreCheck(ctx, step)
		if blocker != "" {
			return &plan.StepResult{
				Error:        plan.ErrVisionBlocker,
				Result:       blocker,
				VoiceMessage: e.voice("На екрані перешкода, яку я не можу обійти сама.", "There is an on-screen blocker I cannot pass alone."),
			}
		}
		visionCoords = coords
	}

	// 4. Fast-path for read-only, schema-complete calls.
	if call, ok := e.fastPathCall(step); ok {
		return e.executeWithReflexion(ctx, step, sc, call, "", userResponse)
	}

	// 5. Reasoning.
	monologue, err := e.reason(ctx, step, sc, rejectionFeedback, userResponse)
	if err != nil {
		return &plan.StepResult{Error: err.Error()}
	}
	if monologue.QuestionToAtlas != "" {
		e.msgBus.Publish(bus.Message{
			Kind:   bus.KindHelpRequest,
			StepID: step.ID,
			From:   "executor",
			To:     "strategist",
			Text:   monologue.QuestionToAtlas,
		})
		return &plan.StepResult{
			Error:    plan.ErrProactiveHelp,
			Question: monologue.QuestionToAtlas,
			Thought:  monologue.Thought,
		}
	}

	// 6. Normalize the proposed call.
	call := e.normalizeCall(step, monologue, visionCoords)

	// 7-10. Execute with the reflexion loop.
	result := e.executeWithReflexion(ctx, step, sc, call, monologue.Thought, userResponse)
	if result.VoiceMessage == "" {
		result.VoiceMessage = monologue.VoiceMessage
	}
	return result
}

func (e *Executor) drainUserResponse(stepID string) string {
	if e.msgBus == nil {
		return ""
	}
	msgs := e.msgBus.Drain(bus.KindUserResponse, stepID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Text
}

func (e *Executor) drainRejections(stepID string) string {
	if e.msgBus == nil {
		return ""
	}
	msgs := e.msgBus.Drain(bus.KindRejection, stepID)
	var texts []string
	for _, msg := range msgs {
		texts = append(texts, msg.Text)
	}
	return strings.Join(texts, "\n\n")
}

func isInfoGathering(action string) bool {
	words := strings.Fields(strings.ToLower(action))
	if len(words) == 0 {
		return false
	}
	first := strings.Trim(words[0], ".,:;")
	for _, verb := range infoGatheringVerbs {
		if strings.HasPrefix(first, verb) {
			return true
		}
	}
	return false
}

func (e *Executor) questionFor(step *plan.Step) string {
	if q, ok := step.Args["question"].(string); ok && q != "" {
		return q
	}
	return step.Action
}

// validateGoalAlignment asks the LLM whether the step serves the goal and
// autonomously substitutes a suggested alternative when misalignment is
// confident.
func (e *Executor) validateGoalAlignment(ctx context.Context, step *plan.Step, goal string) {
	provider, err := e.llms.ForTier(llm.TierStandard)
	if err != nil {
		return
	}
	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: `Does the step serve the goal? Reply with JSON only: {"aligned": bool, "confidence": 0..1, "alternative_action": "..." | null}.`},
		{Role: "user", Content: fmt.Sprintf("Goal: %s\nStep: %s", goal, step.Action)},
	})
	if err != nil {
		return
	}
	var verdict struct {
		Aligned           bool    `json:"aligned"`
		Confidence        float64 `json:"confidence"`
		AlternativeAction string  `json:"alternative_action"`
	}
	if err := llm.DecodeJSON(resp.Text, &verdict); err != nil {
		return
	}
	if !verdict.Aligned && verdict.Confidence < 0.5 && verdict.AlternativeAction != "" {
		slog.Info("Substituting misaligned step action",
			"step", step.ID, "original", step.Action, "alternative", verdict.AlternativeAction)
		step.OriginalAction = step.Action
		step.Action = verdict.AlternativeAction
	}
}

// visionPreCheck captures a screenshot and asks the vision model for the
// target element. Returns coordinates, or a blocker description.
func (e *Executor) visionPreCheck(ctx context.Context, step *plan.Step) (map[string]any, string) {
	shot := e.dispatcher.ResolveAndDispatch(ctx, dispatch.Call{
		Tool:   "take_screenshot",
		StepID: step.ID,
	})
	if !shot.Success {
		return nil, ""
	}

	var image *llm.Image
	for _, part := range shot.Content {
		if part.Type == "image" && part.Data != "" {
			image = &llm.Image{MediaType: "image/png", Base64: part.Data}
			break
		}
	}
	if image == nil {
		return nil, ""
	}

	provider, err := e.llms.ForTier(llm.TierVision)
	if err != nil {
		return nil, ""
	}
	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: `Locate the UI element for the action. Reply with JSON only: {"found": bool, "x": int, "y": int, "blocker": "CAPTCHA or verification description" | null}.`},
		{Role: "user", Content: "Action: " + step.Action, Images: []llm.Image{*image}},
	})
	if err != nil {
		return nil, ""
	}

	var located struct {
		Found   bool    `json:"found"`
		X       float64 `json:"x"`
		Y       float64 `json:"y"`
		Blocker string  `json:"blocker"`
	}
	if err := llm.DecodeJSON(resp.Text, &located); err != nil {
		return nil, ""
	}
	if located.Blocker != "" {
		return nil, located.Blocker
	}
	if located.Found {
		return map[string]any{"x": int(located.X), "y": int(located.Y)}, ""
	}
	return nil, ""
}

// readOnlyTools qualify for the fast path.
var readOnlyTools = map[string]bool{
	"read_file":       true,
	"list_directory":  true,
	"read_clipboard":  true,
	"take_screenshot": true,
	"search":          true,
	"search_memory":   true,
	"search_nodes":    true,
	"fetch":           true,
}

// fastPathCall returns a direct call when the step names a read-only tool
// whose required arguments are already complete.
func (e *Executor) fastPathCall(step *plan.Step) (dispatch.Call, bool) {
	if step.Tool == "" || !readOnlyTools[step.Tool] {
		return dispatch.Call{}, false
	}
	if e.registry != nil {
		if ok, _ := e.registry.ValidateToolCall(step.Tool, step.Args); !ok {
			return dispatch.Call{}, false
		}
	}
	return dispatch.Call{
		Tool:           step.Tool,
		Args:           step.Args,
		ExplicitServer: step.Realm,
		StepID:         step.ID,
	}, true
}

type monologue struct {
	Thought        string `json:"thought"`
	ProposedAction struct {
		Tool   string         `json:"tool"`
		Server string         `json:"server"`
		Args   map[string]any `json:"args"`
	} `json:"proposed_action"`
	VoiceMessage    string `json:"voice_message"`
	QuestionToAtlas string `json:"question_to_atlas"`
}

func (e *Executor) reason(ctx context.Context, step *plan.Step, sc StepContext, feedback, userResponse string) (*monologue, error) {
	provider, err := e.llms.ForTier(llm.TierStandard)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You execute one plan step using tools. voice_message must be in language '%s'.\n", e.language)
	b.WriteString(`Reply with JSON only: {"thought": "...", "proposed_action": {"tool", "server", "args"}, "voice_message": "...", "question_to_atlas": "only when truly stuck" | null}.` + "\n\n")
	if e.registry != nil {
		b.WriteString(e.registry.CatalogForPrompt(true))
	}

	var u strings.Builder
	fmt.Fprintf(&u, "Goal: %s\nStep [%s]: %s\nExpected result: %s\n", sc.Goal, step.ID, step.Action, step.ExpectedResult)
	if step.Tool != "" {
		fmt.Fprintf(&u, "Planned tool: %s on %s with args %v\n", step.Tool, step.Realm, step.Args)
	}
	if sc.Attempt > 1 {
		fmt.Fprintf(&u, "This is attempt %d.\n", sc.Attempt)
	}
	if feedback != "" {
		u.WriteString("Auditor feedback on the previous attempt:\n" + feedback + "\n")
	}
	if sc.HelpAnswer != "" {
		u.WriteString("Strategist's answer to your question:\n" + sc.HelpAnswer + "\n")
	}
	if userResponse != "" {
		u.WriteString("User's answer: " + userResponse + "\n")
	}

	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: u.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("step reasoning failed: %w", err)
	}

	var m monologue
	if err := llm.DecodeJSON(resp.Text, &m); err != nil {
		return nil, fmt.Errorf("step reasoning returned invalid JSON: %w", err)
	}
	return &m, nil
}

// normalizeCall merges the proposal with plan data: step_id injection,
// vision coordinates, and dropping planned args the proposal abandoned.
func (e *Executor) normalizeCall(step *plan.Step, m *monologue, visionCoords map[string]any) dispatch.Call {
	tool := m.ProposedAction.Tool
	server := m.ProposedAction.Server
	args := m.ProposedAction.Args
	if args == nil {
		args = map[string]any{}
	}
	if tool == "" {
		tool = step.Tool
		server = step.Realm
		for k, v := range step.Args {
			if _, ok := args[k]; !ok {
				args[k] = v
			}
		}
	}
	for k, v := range visionCoords {
		args[k] = v
	}
	args["step_id"] = step.ID
	return dispatch.Call{Tool: tool, Args: args, ExplicitServer: server, StepID: step.ID}
}
