package openaicompat

import (
	"github.com/rhuss/parley/pkg/provider"
)

// TranslateResponse converts a ChatCompletionResponse into a provider.Result.
// Only choices[0] is used. The caller guarantees at least one choice.
func TranslateResponse(resp *ChatCompletionResponse) *provider.Result {
	choice := resp.Choices[0]

	res := &provider.Result{
		Content:      ExtractContentString(choice.Message.Content),
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
	}

	for _, tc := range choice.Message.ToolCalls {
		res.ToolCalls = append(res.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return res
}

// ExtractContentString gets a plain string from the message content. The
// content field can be a string, nil, or an array of text parts.
func ExtractContentString(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var text string
		for _, part := range v {
			if m, ok := part.(map[string]any); ok {
				if s, ok := m["text"].(string); ok {
					text += s
				}
			}
		}
		return text
	default:
		return ""
	}
}
