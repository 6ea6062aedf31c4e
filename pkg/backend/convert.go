package backend

import (
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/provider"
	"github.com/rhuss/parley/pkg/tools"
)

// toProviderMessages converts normalized messages into the driver-neutral
// form shared by every adapter.
func toProviderMessages(msgs []api.Message) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, provider.Message{
			Role:    toProviderRole(m.Role),
			Content: m.Content,
		})
	}
	return out
}

func toProviderRole(r api.Role) string {
	switch r {
	case api.RoleSystem:
		return provider.RoleSystem
	case api.RoleAssistant:
		return provider.RoleAssistant
	default:
		return provider.RoleUser
	}
}

// toProviderTools converts tool definitions for the driver request.
func toProviderTools(defs []tools.Definition) []provider.ToolDefinition {
	if len(defs) == 0 {
		return nil
	}
	out := make([]provider.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, provider.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}

// assistantToolCallMessage is the assistant turn that requested calls. It
// must precede the matching tool result messages.
func assistantToolCallMessage(content string, calls []provider.ToolCall) provider.Message {
	return provider.Message{
		Role:      provider.RoleAssistant,
		Content:   content,
		ToolCalls: calls,
	}
}

func toolResultMessage(call provider.ToolCall, output string) provider.Message {
	return provider.Message{
		Role:       provider.RoleTool,
		Content:    output,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}
