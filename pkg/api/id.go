package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	messageIDPrefix  = "msg_"
	toolCallIDPrefix = "call_"
)

var messageIDPattern = regexp.MustCompile(`^msg_[a-zA-Z0-9]{24}$`)

// NewMessageID generates a message ID: "msg_" followed by 24
// cryptographically random alphanumeric characters.
func NewMessageID() string {
	return messageIDPrefix + randomAlphanumeric(idLength)
}

// NewToolCallID generates an ID for backends that do not assign their own
// tool call identifiers.
func NewToolCallID() string {
	return toolCallIDPrefix + randomAlphanumeric(idLength)
}

// ValidateMessageID checks whether id has the message ID shape.
func ValidateMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
