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

// Package orchestrator runs the top-level state machine: segment dispatch,
// the plan/verify/execute loop, the failure recovery ladder, user consent
// gating, and checkpointing. It is the only loop controller; agents never
// call each other directly.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/trinitylabs/trinity/pkg/agents/auditor"
	"github.com/trinitylabs/trinity/pkg/agents/executor"
	"github.com/trinitylabs/trinity/pkg/agents/strategist"
	"github.com/trinitylabs/trinity/pkg/bus"
	"github.com/trinitylabs/trinity/pkg/checkpoint"
	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/mode"
	"github.com/trinitylabs/trinity/pkg/segment"
	"github.com/trinitylabs/trinity/pkg/sharedctx"
)

// State names of the session state machine.
type State string

const (
	StateIdle          State = "IDLE"
	StateClassifying   State = "CLASSIFYING"
	StatePlanning      State = "PLANNING"
	StateVerifyingPlan State = "VERIFYING_PLAN"
	StateExecuting     State = "EXECUTING"
	StateEvaluating    State = "EVALUATING"
	StateAwaitingInput State = "AWAITING_INPUT"
	StateRecovery      State = "RECOVERY"
	StateFailed        State = "FAILED"
)

// VoiceSink receives spoken agent messages in the target language.
type VoiceSink interface {
	Speak(text string)
}

type noopVoice struct{}

func (noopVoice) Speak(string) {}

// Orchestrator drives one session at a time.
type Orchestrator struct {
	cfg        *config.Config
	splitter   *segment.Splitter
	strategist *strategist.Strategist
	executor   *executor.Executor
	auditor    *auditor.Auditor
	store      checkpoint.Store
	msgBus     *bus.Bus
	shared     *sharedctx.Context
	voice      VoiceSink

	mu        sync.Mutex
	state     State
	userInput chan string
}

func New(cfg *config.Config, splitter *segment.Splitter, strat *strategist.Strategist, exec *executor.Executor, aud *auditor.Auditor, store checkpoint.Store, msgBus *bus.Bus, shared *sharedctx.Context, voice VoiceSink) *Orchestrator {
	if voice == nil {
		voice = noopVoice{}
	}
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	return &Orchestrator{
		cfg:        cfg,
		splitter:   splitter,
		strategist: strat,
		executor:   exec,
		auditor:    aud,
		store:      store,
		msgBus:     msgBus,
		shared:     shared,
		voice:      voice,
		state:      StateIdle,
		userInput:  make(chan string, 1),
	}
}

// State returns the current machine state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	slog.Debug("State transition", "state", s)
}

// ProvideUserInput delivers the user's answer to a waiting step. Non-blocking;
// a second answer before consumption is dropped.
func (o *Orchestrator) ProvideUserInput(text string) {
	select {
	case o.userInput <- text:
	default:
		slog.Warn("Dropping user input, no step is waiting")
	}
}

// SegmentReport is the outcome of one request segment.
type SegmentReport struct {
	Mode     string
	Response string
	Failed   bool

	Evaluation *strategist.Evaluation
}

// SessionResult aggregates a full request.
type SessionResult struct {
	SessionID string
	Reports   []SegmentReport
}

// HandleRequest processes one user request end to end. Cancellation is
// honored between steps, never mid-tool-call.
func (o *Orchestrator) HandleRequest(ctx context.Context, sessionID, request string, history []llm.Message) (*SessionResult, error) {
	o.setState(StateClassifying)
	defer o.setState(StateIdle)

	segments := orderSegments(o.splitter.SplitRequest(ctx, request, history))
	result := &SessionResult{SessionID: sessionID}

	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		report := o.handleSegment(ctx, sessionID, request, seg, history)
		result.Reports = append(result.Reports, report)
	}
	return result, nil
}

func (o *Orchestrator) handleSegment(ctx context.Context, sessionID, request string, seg segment.Segment, history []llm.Message) SegmentReport {
	report := SegmentReport{Mode: seg.Mode}

	switch seg.Mode {
	case mode.ModeChat, mode.ModeDeepChat:
		response, err := o.strategist.Chat(ctx, seg.Profile, seg.Text, history)
		if err != nil {
			report.Failed = true
			report.Response = fmt.Sprintf("chat failed: %v", err)
			return report
		}
		report.Response = response

	case mode.ModeTask, mode.ModeDevelopment:
		report = o.runTrinity(ctx, sessionID, request, seg)

	default:
		// solo_task, recall, status: lone strategist with tools.
		solo, err := o.strategist.RunSoloTask(ctx, seg.Profile, seg.Text, o.cfg.Orchestrator.ChatTurnLimit)
		if err != nil {
			report.Failed = true
			report.Response = fmt.Sprintf("solo task failed: %v", err)
			return report
		}
		report.Response = solo.Response
	}
	return report
}

// orderSegments stable-sorts by profile priority (lower runs earlier).
// Unprioritized segments run after prioritized ones; ties keep the
// segmenter's emission order.
func orderSegments(segments []segment.Segment) []segment.Segment {
	sort.SliceStable(segments, func(i, j int) bool {
		pi, pj := segments[i].Priority, segments[j].Priority
		if pi == 0 {
			return false
		}
		if pj == 0 {
			return true
		}
		return pi < pj
	})
	return segments
}

// ResumePending returns the checkpointed results to skip when a restart
// marker points at this session.
func (o *Orchestrator) ResumePending(ctx context.Context, sessionID string) int {
	marker, err := o.store.RestartPending(ctx)
	if err != nil || marker == nil || marker.SessionID != sessionID {
		return 0
	}
	results, err := o.store.LoadSteps(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to load checkpoints for resume", "session", sessionID, "error", err)
		return 0
	}
	slog.Info("Resuming session from checkpoint",
		"session", sessionID, "completed_steps", len(results), "reason", marker.Reason)
	return len(results)
}
