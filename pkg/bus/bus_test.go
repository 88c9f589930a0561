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

package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrain_FiltersByKindAndStep(t *testing.T) {
	b := New(0)
	b.Publish(Message{Kind: KindRejection, StepID: "1", Text: "first"})
	b.Publish(Message{Kind: KindHelpRequest, StepID: "1", Text: "help"})
	b.Publish(Message{Kind: KindRejection, StepID: "2", Text: "other step"})
	b.Publish(Message{Kind: KindRejection, StepID: "1", Text: "second"})

	drained := b.Drain(KindRejection, "1")
	require.Len(t, drained, 2)
	assert.Equal(t, "first", drained[0].Text)
	assert.Equal(t, "second", drained[1].Text)

	// Non-matching messages stay queued.
	assert.Equal(t, 2, b.Len())

	// Draining again is empty: messages are consumed exactly once.
	assert.Empty(t, b.Drain(KindRejection, "1"))
}

func TestDrain_EmptyStepMatchesAll(t *testing.T) {
	b := New(0)
	b.Publish(Message{Kind: KindUserResponse, StepID: "1", Text: "yes"})
	b.Publish(Message{Kind: KindUserResponse, StepID: "2", Text: "no"})

	drained := b.Drain(KindUserResponse, "")
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, b.Len())
}

func TestDrainAll(t *testing.T) {
	b := New(0)
	b.Publish(Message{Kind: KindRejection, StepID: "1", Text: "rejection"})
	b.Publish(Message{Kind: KindResponse, StepID: "1", Text: "response"})
	b.Publish(Message{Kind: KindResponse, StepID: "2", Text: "keep"})

	drained := b.DrainAll("1")
	assert.Len(t, drained, 2)
	assert.Equal(t, 1, b.Len())
}

func TestPublish_DropsOldestWhenFull(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Publish(Message{Kind: KindResponse, StepID: "1", Text: fmt.Sprintf("msg-%d", i)})
	}

	assert.Equal(t, 3, b.Len())
	drained := b.Drain(KindResponse, "1")
	require.Len(t, drained, 3)
	assert.Equal(t, "msg-2", drained[0].Text)
	assert.Equal(t, "msg-4", drained[2].Text)
}

func TestPublish_StampsTimestamp(t *testing.T) {
	b := New(0)
	b.Publish(Message{Kind: KindResponse, Text: "x"})
	drained := b.Drain(KindResponse, "")
	require.Len(t, drained, 1)
	assert.False(t, drained[0].Timestamp.IsZero())
}
