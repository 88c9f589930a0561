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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinitylabs/trinity/pkg/bus"
	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/dispatch"
	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/plan"
	"github.com/trinitylabs/trinity/pkg/schema"
	"github.com/trinitylabs/trinity/pkg/toolserver"
)

func testExecutor(msgBus *bus.Bus) *Executor {
	return New(nil, nil, msgBus, nil, nil, "en")
}

func TestIsInfoGathering(t *testing.T) {
	assert.True(t, isInfoGathering("search for the latest release notes"))
	assert.True(t, isInfoGathering("Read the config file"))
	assert.True(t, isInfoGathering("знайди останні новини"))
	assert.True(t, isInfoGathering("checking the port")) // prefix match
	assert.False(t, isInfoGathering("delete the old backups"))
	assert.False(t, isInfoGathering("send the email to the team"))
	assert.False(t, isInfoGathering(""))
}

func TestIsDataIntensive(t *testing.T) {
	assert.True(t, isDataIntensive("read_file"))
	assert.True(t, isDataIntensive("maps_geocode"))
	assert.True(t, isDataIntensive("web_search"))
	assert.False(t, isDataIntensive("execute_command"))
	assert.False(t, isDataIntensive("click"))
}

func TestConsentGate(t *testing.T) {
	e := testExecutor(bus.New(8))
	ctx := context.Background()

	t.Run("consent without answer asks the user", func(t *testing.T) {
		step := &plan.Step{
			ID:              "1",
			Action:          "send the report to the whole team",
			RequiresConsent: true,
			Args:            map[string]any{"question": "Send to everyone?"},
		}
		result := e.ExecuteStep(ctx, step, StepContext{Attempt: 1})
		assert.Equal(t, plan.ErrNeedUserInput, result.Error)
		assert.Equal(t, "Send to everyone?", result.Question)
		assert.Equal(t, "1", result.StepID)
	})

	t.Run("info gathering skips the gate", func(t *testing.T) {
		// Reaches the reasoning phase, which fails without a provider;
		// the point is that it did not stop at the gate.
		step := &plan.Step{ID: "2", Action: "read the inbox", RequiresConsent: true}
		e := New(llm.NewRegistry(config.TierConfig{}), nil, bus.New(8), nil, nil, "en")
		result := e.ExecuteStep(ctx, step, StepContext{Attempt: 1})
		assert.NotEqual(t, plan.ErrNeedUserInput, result.Error)
	})

	t.Run("question defaults to the action", func(t *testing.T) {
		step := &plan.Step{ID: "3", Action: "wipe the drive", RequiresUserInput: true}
		result := e.ExecuteStep(ctx, step, StepContext{Attempt: 1})
		assert.Equal(t, plan.ErrNeedUserInput, result.Error)
		assert.Equal(t, "wipe the drive", result.Question)
	})
}

func TestBusDrains(t *testing.T) {
	msgBus := bus.New(8)
	e := testExecutor(msgBus)

	msgBus.Publish(bus.Message{Kind: bus.KindRejection, StepID: "1", Text: "first rejection"})
	msgBus.Publish(bus.Message{Kind: bus.KindRejection, StepID: "1", Text: "second rejection"})
	msgBus.Publish(bus.Message{Kind: bus.KindRejection, StepID: "2", Text: "other step"})
	msgBus.Publish(bus.Message{Kind: bus.KindUserResponse, StepID: "1", Text: "yes"})
	msgBus.Publish(bus.Message{Kind: bus.KindUserResponse, StepID: "1", Text: "actually no"})

	// Rejections arrive joined in publish order; other steps untouched.
	feedback := e.drainRejections("1")
	assert.Contains(t, feedback, "first rejection")
	assert.Contains(t, feedback, "second rejection")
	assert.Less(t, strings.Index(feedback, "first"), strings.Index(feedback, "second"))
	assert.Empty(t, e.drainRejections("1"), "drain consumes")
	assert.NotEmpty(t, e.drainRejections("2"))

	// The latest user answer wins.
	assert.Equal(t, "actually no", e.drainUserResponse("1"))
	assert.Empty(t, e.drainUserResponse("1"))

	// Nil bus never panics.
	bare := testExecutor(nil)
	assert.Empty(t, bare.drainRejections("1"))
	assert.Empty(t, bare.drainUserResponse("1"))
}

func TestDetectEmptyProof(t *testing.T) {
	e := testExecutor(nil)

	t.Run("empty output on data tool downgraded", func(t *testing.T) {
		result := &dispatch.Result{CallResult: toolserver.CallResult{
			Success: true, Output: "  ", Server: "filesystem", Tool: "read_file",
		}}
		out := e.detectEmptyProof(dispatch.Call{Tool: "read_file"}, result)
		assert.False(t, out.Success)
		assert.Contains(t, out.Error, "unproven")
		// Original result is not mutated.
		assert.True(t, result.Success)
	})

	t.Run("empty output on action tool passes", func(t *testing.T) {
		result := &dispatch.Result{CallResult: toolserver.CallResult{
			Success: true, Output: "", Tool: "click",
		}}
		assert.True(t, e.detectEmptyProof(dispatch.Call{Tool: "click"}, result).Success)
	})

	t.Run("non-empty output passes", func(t *testing.T) {
		result := &dispatch.Result{CallResult: toolserver.CallResult{
			Success: true, Output: "data", Tool: "read_file",
		}}
		assert.True(t, e.detectEmptyProof(dispatch.Call{Tool: "read_file"}, result).Success)
	})
}

func TestNormalizeCall(t *testing.T) {
	e := testExecutor(nil)
	step := &plan.Step{
		ID:    "4",
		Tool:  "open_application",
		Realm: "macos-use",
		Args:  map[string]any{"name": "Safari"},
	}

	t.Run("proposal wins over plan", func(t *testing.T) {
		m := &monologue{}
		m.ProposedAction.Tool = "execute_command"
		m.ProposedAction.Server = "macos-use"
		m.ProposedAction.Args = map[string]any{"command": "open -a Safari"}
		call := e.normalizeCall(step, m, nil)
		assert.Equal(t, "execute_command", call.Tool)
		assert.Equal(t, "open -a Safari", call.Args["command"])
		assert.Equal(t, "4", call.Args["step_id"])
		_, hasName := call.Args["name"]
		assert.False(t, hasName, "abandoned planned args are dropped")
	})

	t.Run("empty proposal falls back to plan", func(t *testing.T) {
		call := e.normalizeCall(step, &monologue{}, nil)
		assert.Equal(t, "open_application", call.Tool)
		assert.Equal(t, "macos-use", call.ExplicitServer)
		assert.Equal(t, "Safari", call.Args["name"])
	})

	t.Run("vision coordinates injected", func(t *testing.T) {
		call := e.normalizeCall(step, &monologue{}, map[string]any{"x": 10, "y": 20})
		assert.Equal(t, 10, call.Args["x"])
		assert.Equal(t, 20, call.Args["y"])
	})
}

func TestFastPathCall(t *testing.T) {
	registry := loadRegistry(t)
	e := New(nil, nil, nil, nil, registry, "en")

	t.Run("read-only tool with complete args qualifies", func(t *testing.T) {
		step := &plan.Step{ID: "1", Tool: "read_file", Realm: "filesystem",
			Args: map[string]any{"path": "/tmp/x"}}
		call, ok := e.fastPathCall(step)
		require.True(t, ok)
		assert.Equal(t, "read_file", call.Tool)
		assert.Equal(t, "filesystem", call.ExplicitServer)
	})

	t.Run("missing required arg disqualifies", func(t *testing.T) {
		step := &plan.Step{ID: "2", Tool: "read_file", Args: map[string]any{}}
		_, ok := e.fastPathCall(step)
		assert.False(t, ok)
	})

	t.Run("mutating tool never fast-paths", func(t *testing.T) {
		step := &plan.Step{ID: "3", Tool: "write_file",
			Args: map[string]any{"path": "/tmp/x", "content": "y"}}
		_, ok := e.fastPathCall(step)
		assert.False(t, ok)
	})

	t.Run("no tool never fast-paths", func(t *testing.T) {
		_, ok := e.fastPathCall(&plan.Step{ID: "4", Action: "think"})
		assert.False(t, ok)
	})
}

func TestExecuteFixNilCall(t *testing.T) {
	e := testExecutor(nil)
	assert.False(t, e.ExecuteFix(context.Background(), nil, "s", "1"))
	assert.False(t, e.ExecuteFix(context.Background(), &plan.ToolCall{}, "s", "1"))
}

func TestVoice(t *testing.T) {
	uk := New(nil, nil, nil, nil, nil, "uk")
	en := New(nil, nil, nil, nil, nil, "en")
	assert.Equal(t, "так", uk.voice("так", "yes"))
	assert.Equal(t, "yes", en.voice("так", "yes"))
}

func loadRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry, err := schema.Load(&config.SchemasConfig{
		Tools: map[string]*config.ToolSchemaConfig{
			"read_file": {Server: "filesystem", Required: []string{"path"}},
		},
	}, nil)
	require.NoError(t, err)
	return registry
}
