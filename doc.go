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

// Package trinity is a multi-agent desktop task orchestrator.
//
// A user request flows through a mode router and segmenter into the Trinity
// loop: a strategist plans, an executor runs the plan step by step through
// MCP tool servers, and an auditor independently verifies every step before
// the strategist gives the final verdict.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/trinitylabs/trinity/cmd/trinity@latest
//
// Validate a configuration and handle a request:
//
//	trinity validate --config configs/trinity.json
//	trinity run --config configs/trinity.json "відкрий браузер і знайди погоду"
//
// Run without arguments for the interactive loop.
//
// # Architecture
//
//	Request → Segmenter → Mode Router → Orchestrator
//	                                       │ chat            → Strategist (direct answer)
//	                                       │ solo_task       → Strategist (tool loop)
//	                                       └ task/development → Trinity: plan → execute → verify
//
// All tool access goes through the dispatcher (pkg/dispatch) and the tool
// server manager (pkg/toolserver); agents never talk to servers directly.
//
// # Packages
//
// The building blocks live under pkg/:
//
//	import (
//	    "github.com/trinitylabs/trinity/pkg/orchestrator"
//	    "github.com/trinitylabs/trinity/pkg/dispatch"
//	    "github.com/trinitylabs/trinity/pkg/config"
//	)
package trinity
