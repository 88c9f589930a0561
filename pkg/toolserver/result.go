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

package toolserver

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorTag classifies a failed call for upstream retry/reflexion decisions.
type ErrorTag string

const (
	TagNone               ErrorTag = ""
	TagToolNotFound       ErrorTag = "tool_not_found"
	TagBadRequest         ErrorTag = "bad_request"
	TagValidationError    ErrorTag = "validation_error"
	TagCompatibilityError ErrorTag = "compatibility_error"
	TagTimeout            ErrorTag = "timeout"
)

// ContentPart is one typed part of a tool result.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// CallResult is the normalized outcome of one tools/call round trip.
type CallResult struct {
	Success bool          `json:"success"`
	Output  string        `json:"output,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	Error   string        `json:"error,omitempty"`
	Tag     ErrorTag      `json:"tag,omitempty"`
	Server  string        `json:"server,omitempty"`
	Tool    string        `json:"tool,omitempty"`
}

// ToolDescriptor is one tool advertised by a server.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// normalizeResult converts an MCP call result into a CallResult: success is
// derived from isError, and text parts are concatenated into Output.
func normalizeResult(server, tool string, resp *mcp.CallToolResult) *CallResult {
	out := &CallResult{
		Success: !resp.IsError,
		Server:  server,
		Tool:    tool,
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
			out.Content = append(out.Content, ContentPart{Type: "text", Text: textContent.Text})
			continue
		}
		if imageContent, ok := content.(mcp.ImageContent); ok {
			out.Content = append(out.Content, ContentPart{Type: "image", Data: imageContent.Data})
		}
	}

	joined := strings.Join(texts, "\n")
	if resp.IsError {
		out.Error = joined
		if out.Error == "" {
			out.Error = "unknown error"
		}
	} else {
		out.Output = joined
	}

	return out
}

// failedResult builds an error result with a tag.
func failedResult(server, tool, message string, tag ErrorTag) *CallResult {
	return &CallResult{
		Success: false,
		Server:  server,
		Tool:    tool,
		Error:   message,
		Tag:     tag,
	}
}
