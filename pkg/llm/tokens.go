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

package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens counts tokens with the cl100k_base encoding, falling back to a
// 4-chars-per-token estimate when the encoding is unavailable (offline).
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// TruncateHistory drops the oldest messages until the conversation fits the
// token budget. The first message (system prompt) is always kept.
func TruncateHistory(messages []Message, budget int) []Message {
	if len(messages) == 0 || budget <= 0 {
		return messages
	}

	total := 0
	counts := make([]int, len(messages))
	for i, m := range messages {
		counts[i] = CountTokens(m.Content)
		total += counts[i]
	}
	if total <= budget {
		return messages
	}

	keep := []Message{messages[0]}
	remaining := budget - counts[0]

	var tail []Message
	for i := len(messages) - 1; i >= 1; i-- {
		if remaining-counts[i] < 0 {
			break
		}
		remaining -= counts[i]
		tail = append([]Message{messages[i]}, tail...)
	}

	return append(keep, tail...)
}
