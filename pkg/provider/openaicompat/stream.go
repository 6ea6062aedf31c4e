package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/provider"
)

// ToolCallBuffer tracks incremental tool call argument assembly across
// multiple SSE chunks for a single tool call index.
type ToolCallBuffer struct {
	ID   string
	Name string
	Args strings.Builder
}

// ParseSSEStream reads Chat Completions SSE chunks from body and yields
// provider events. Text deltas are yielded as they arrive; tool calls are
// buffered and yielded once the stream ends, followed by a single
// EventDone.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//	\n
//
// Malformed chunks are logged and skipped. Context cancellation stops
// reading immediately without yielding an error.
func ParseSSEStream(ctx context.Context, providerName string, body io.Reader, yield func(provider.Event, error) bool) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	toolCalls := make(map[int]*ToolCallBuffer)
	var finishReason string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()

		// Lines without a data field are ignored (blank separators,
		// ":" comments, event names).
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed SSE chunk",
				"provider", providerName,
				"error", err.Error(),
				"data", Truncate(payload, 200),
			)
			continue
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if c := choice.Delta.Content; c != nil && *c != "" {
			if !yield(provider.Event{Type: provider.EventTextDelta, Delta: *c}, nil) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			buf, ok := toolCalls[tc.Index]
			if !ok {
				buf = &ToolCallBuffer{}
				toolCalls[tc.Index] = buf
			}
			if tc.ID != "" {
				buf.ID = tc.ID
			}
			if tc.Function.Name != "" {
				buf.Name = tc.Function.Name
			}
			buf.Args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}
	}

	if err := scanner.Err(); err != nil {
		// Context cancellation is not an error from our perspective.
		if ctx.Err() != nil {
			return
		}
		yield(provider.Event{}, &api.TransientBackendError{
			Provider: providerName,
			Err:      fmt.Errorf("stream read error: %w", err),
		})
		return
	}
	if ctx.Err() != nil {
		return
	}

	for _, tc := range FlushToolCalls(toolCalls) {
		if !yield(provider.Event{Type: provider.EventToolCall, ToolCall: &tc}, nil) {
			return
		}
	}

	yield(provider.Event{Type: provider.EventDone, FinishReason: finishReason}, nil)
}

// FlushToolCalls returns the buffered tool calls ordered by index and clears
// the buffer.
func FlushToolCalls(toolCalls map[int]*ToolCallBuffer) []provider.ToolCall {
	indexes := make([]int, 0, len(toolCalls))
	for idx := range toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]provider.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		buf := toolCalls[idx]
		calls = append(calls, provider.ToolCall{
			ID:        buf.ID,
			Name:      buf.Name,
			Arguments: buf.Args.String(),
		})
		delete(toolCalls, idx)
	}
	return calls
}

// Truncate limits a string to maxLen characters for log output.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
