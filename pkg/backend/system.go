package backend

import (
	"context"
	"iter"

	"github.com/rhuss/parley/pkg/api"
)

// systemInstructionClient forces a configured system instruction.
type systemInstructionClient struct {
	next        Client
	instruction string
}

// WithSystemInstruction wraps next so that every call first drops all
// caller-supplied system messages and then, if instruction is non-empty,
// inserts it as the first message. The effective system instruction is
// therefore never caller controlled.
func WithSystemInstruction(next Client, instruction string) Client {
	return &systemInstructionClient{next: next, instruction: instruction}
}

func (c *systemInstructionClient) Send(ctx context.Context, messages []api.Message, opts ...CallOption) (*api.Response, error) {
	return c.next.Send(ctx, ApplySystemInstruction(messages, c.instruction), opts...)
}

func (c *systemInstructionClient) Stream(ctx context.Context, messages []api.Message, opts ...CallOption) iter.Seq2[Chunk, error] {
	return c.next.Stream(ctx, ApplySystemInstruction(messages, c.instruction), opts...)
}

func (c *systemInstructionClient) Describe() api.BackendMetadata {
	return c.next.Describe()
}

// ApplySystemInstruction strips every system message from messages and
// then prepends instruction when it is non-empty. The input is not modified.
func ApplySystemInstruction(messages []api.Message, instruction string) []api.Message {
	out := make([]api.Message, 0, len(messages)+1)
	if instruction != "" {
		out = append(out, api.NewMessage(api.RoleSystem, instruction))
	}
	for _, m := range messages {
		if m.Role == api.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
