package openaicompat

import (
	"github.com/rhuss/parley/pkg/provider"
)

// TranslateRequest converts a provider.Request into a ChatCompletionRequest
// suitable for the /chat/completions endpoint.
func TranslateRequest(req *provider.Request, stream bool) ChatCompletionRequest {
	cr := ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		N:         1,
		Stream:    stream,
	}

	for _, pm := range req.Messages {
		cm := ChatMessage{
			Role:       pm.Role,
			Content:    pm.Content,
			ToolCallID: pm.ToolCallID,
			Name:       pm.Name,
		}
		// Assistant turns that only carry tool calls send null content.
		if pm.Content == "" && len(pm.ToolCalls) > 0 {
			cm.Content = nil
		}
		for _, tc := range pm.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, ChatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: ChatFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		cr.Messages = append(cr.Messages, cm)
	}

	for _, td := range req.Tools {
		cr.Tools = append(cr.Tools, ChatTool{
			Type: "function",
			Function: ChatFunctionDef{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}

	return cr
}
