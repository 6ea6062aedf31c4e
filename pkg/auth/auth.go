package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Decision is an authenticator's vote.
type Decision int

const (
	Yes Decision = iota
	No
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	}
	return "unknown"
}

// DefaultTier is the rate limit tier of identities that name none.
const DefaultTier = "default"

// Result is the outcome of one authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set when Decision is Yes
	Err      error     // set when Decision is No
}

// Identity is an authenticated caller.
type Identity struct {
	Subject string
	Tier    string
	Scopes  []string
}

// Authenticator votes on the credentials of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators in order.
type Chain struct {
	Authenticators []Authenticator

	// Default is the decision when every authenticator abstains. Only Yes
	// and No are meaningful.
	Default Decision
}

// Authenticate returns the first non-abstaining vote, or the default.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.Default == Yes {
		return Result{Decision: Yes, Identity: &Identity{Subject: "anonymous", Tier: DefaultTier}}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}

// BearerToken extracts the token of an "Authorization: Bearer" header. ok
// is false when the header is absent or uses another scheme; an empty
// token with ok true means the scheme was present without a value.
func BearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	scheme, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
