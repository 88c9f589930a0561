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

// Package bus is the bounded in-process message channel between agents.
// Agents never call each other directly; the orchestrator is the only loop
// controller and every cross-agent exchange is a typed message here.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Kind is the closed set of message types.
type Kind string

const (
	KindRejection    Kind = "REJECTION"
	KindHelpRequest  Kind = "HELP_REQUEST"
	KindResponse     Kind = "RESPONSE"
	KindUserResponse Kind = "USER_RESPONSE"
)

// Message is one typed bus entry.
type Message struct {
	Kind      Kind           `json:"kind"`
	StepID    string         `json:"step_id,omitempty"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Text      string         `json:"text"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const defaultCapacity = 64

// Bus is a bounded FIFO of typed messages. When full, the oldest message is
// dropped so publishers never block the orchestrator loop.
type Bus struct {
	mu       sync.Mutex
	messages []Message
	capacity int
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{capacity: capacity}
}

// Publish appends a message, stamping it.
func (b *Bus) Publish(msg Message) {
	msg.Timestamp = time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.messages) >= b.capacity {
		dropped := b.messages[0]
		b.messages = b.messages[1:]
		slog.Warn("Message bus full, dropping oldest",
			"kind", dropped.Kind, "step_id", dropped.StepID)
	}
	b.messages = append(b.messages, msg)
}

// Drain removes and returns every message matching the kind and step, in
// publish order. The executor calls this synchronously at the top of each
// step attempt so rejections always precede the retry.
func (b *Bus) Drain(kind Kind, stepID string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []Message
	remaining := b.messages[:0]
	for _, msg := range b.messages {
		if msg.Kind == kind && (stepID == "" || msg.StepID == stepID) {
			matched = append(matched, msg)
		} else {
			remaining = append(remaining, msg)
		}
	}
	b.messages = remaining
	return matched
}

// DrainAll removes and returns every message for a step regardless of kind.
func (b *Bus) DrainAll(stepID string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []Message
	remaining := b.messages[:0]
	for _, msg := range b.messages {
		if stepID == "" || msg.StepID == stepID {
			matched = append(matched, msg)
		} else {
			remaining = append(remaining, msg)
		}
	}
	b.messages = remaining
	return matched
}

// Len reports the queued message count.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}
