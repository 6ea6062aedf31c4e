// Package jwt authenticates JWT bearer tokens signed with either a shared
// HMAC secret (HS256/HS384/HS512) or an RSA key pair whose public half is
// configured as a PEM file (RS256/RS384/RS512).
package jwt

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rhuss/parley/pkg/auth"
	"github.com/rhuss/parley/pkg/config"
)

// Authenticator validates JWT bearer tokens with a static key.
type Authenticator struct {
	secret       []byte
	publicKey    *rsa.PublicKey
	methods      []string
	issuer       string
	audience     string
	subjectClaim string
	tierClaim    string
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New builds an authenticator from cfg. The RSA public key wins when both
// a key file and a secret are configured.
func New(cfg config.JWTConfig) (*Authenticator, error) {
	a := &Authenticator{
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		subjectClaim: cfg.SubjectClaim,
		tierClaim:    cfg.TierClaim,
	}
	if a.subjectClaim == "" {
		a.subjectClaim = "sub"
	}
	if a.tierClaim == "" {
		a.tierClaim = "tier"
	}

	switch {
	case cfg.PublicKeyFile != "":
		data, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading JWT public key: %w", err)
		}
		key, err := jwtlib.ParseRSAPublicKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parsing JWT public key %s: %w", cfg.PublicKeyFile, err)
		}
		a.publicKey = key
		a.methods = []string{"RS256", "RS384", "RS512"}
	case cfg.Secret != "":
		a.secret = []byte(cfg.Secret)
		a.methods = []string{"HS256", "HS384", "HS512"}
	default:
		return nil, errors.New("jwt: a secret or a public key file is required")
	}
	return a, nil
}

// Authenticate abstains without a bearer token. Any token that fails
// signature, expiry, issuer or audience validation is a No.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	tokenStr, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if tokenStr == "" {
		return auth.Result{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	token, err := jwtlib.Parse(tokenStr, a.key, a.parserOptions()...)
	if err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.Result{Decision: auth.No, Err: errors.New("invalid JWT claims")}
	}

	subject := claimString(claims, a.subjectClaim)
	if subject == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("JWT missing %q claim", a.subjectClaim)}
	}

	tier := claimString(claims, a.tierClaim)
	if tier == "" {
		tier = auth.DefaultTier
	}

	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject: subject,
			Tier:    tier,
			Scopes:  extractScopes(claims, "scope"),
		},
	}
}

func (a *Authenticator) key(token *jwtlib.Token) (any, error) {
	if a.publicKey != nil {
		if _, ok := token.Method.(*jwtlib.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.publicKey, nil
	}
	if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return a.secret, nil
}

func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods(a.methods),
		jwtlib.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.audience))
	}
	return opts
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractScopes accepts a space-separated string or a JSON array.
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if parts := strings.Fields(v); len(parts) > 0 {
			return parts
		}
	case []any:
		var scopes []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	return nil
}
