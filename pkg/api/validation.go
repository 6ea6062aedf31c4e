package api

import (
	"fmt"
	"time"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxMessages    int
	MaxContentSize int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessages:    1000,
		MaxContentSize: 1 << 20, // 1MB per message
	}
}

// ValidateMessages checks a conversation before it reaches any backend.
// It returns an *ArgumentError describing the first failure.
func ValidateMessages(msgs []Message, cfg ValidationConfig) error {
	if len(msgs) == 0 {
		return &ArgumentError{Param: "messages", Message: "at least one message is required"}
	}

	if cfg.MaxMessages > 0 && len(msgs) > cfg.MaxMessages {
		return &ArgumentError{
			Param:   "messages",
			Message: fmt.Sprintf("conversation exceeds maximum of %d messages", cfg.MaxMessages),
		}
	}

	for i, m := range msgs {
		if !m.Role.Valid() {
			return &ArgumentError{
				Param:   fmt.Sprintf("messages[%d].role", i),
				Message: fmt.Sprintf("unknown role %q", m.Role),
			}
		}
		if cfg.MaxContentSize > 0 && len(m.Content) > cfg.MaxContentSize {
			return &ArgumentError{
				Param:   fmt.Sprintf("messages[%d].content", i),
				Message: fmt.Sprintf("content exceeds maximum of %d bytes", cfg.MaxContentSize),
			}
		}
	}

	return nil
}

// NormalizeMessages returns a copy of msgs with missing IDs and timestamps
// filled in. The input slice is not modified.
func NormalizeMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	now := time.Now().UTC()
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = NewMessageID()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		out[i] = m
	}
	return out
}
