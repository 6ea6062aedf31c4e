// Package apikey authenticates bearer tokens against configured API keys.
// Keys are kept only as SHA-256 digests and compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/rhuss/parley/pkg/auth"
	"github.com/rhuss/parley/pkg/config"
)

type entry struct {
	digest   [sha256.Size]byte
	identity auth.Identity
}

// Authenticator validates bearer tokens against a static key set.
type Authenticator struct {
	entries []entry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New hashes every configured key. A key without a subject is identified
// by its index.
func New(keys []config.APIKeyConfig) *Authenticator {
	a := &Authenticator{entries: make([]entry, 0, len(keys))}
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		tier := k.Tier
		if tier == "" {
			tier = auth.DefaultTier
		}
		a.entries = append(a.entries, entry{
			digest:   sha256.Sum256([]byte(k.Key)),
			identity: auth.Identity{Subject: k.Subject, Tier: tier},
		})
	}
	return a
}

// Authenticate abstains without a bearer token and votes No for unknown
// keys. Every stored digest is compared so timing does not reveal the
// position of a match.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	digest := sha256.Sum256([]byte(token))
	match := -1
	for i := range a.entries {
		if subtle.ConstantTimeCompare(digest[:], a.entries[i].digest[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	id := a.entries[match].identity
	if id.Subject == "" {
		id.Subject = fmt.Sprintf("apikey-%d", match)
	}
	return auth.Result{Decision: auth.Yes, Identity: &id}
}

