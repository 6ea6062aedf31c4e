package apikey

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/parley/pkg/auth"
	"github.com/rhuss/parley/pkg/config"
)

func TestAuthenticate(t *testing.T) {
	a := New([]config.APIKeyConfig{
		{Key: "sk-alice", Subject: "alice", Tier: "gold"},
		{Key: "sk-anon"},
		{Subject: "no-key"},
	})

	tests := []struct {
		name        string
		header      string
		want        auth.Decision
		wantSubject string
		wantTier    string
	}{
		{"no header", "", auth.Abstain, "", ""},
		{"basic scheme", "Basic Zm9vOmJhcg==", auth.Abstain, "", ""},
		{"empty token", "Bearer ", auth.No, "", ""},
		{"unknown key", "Bearer sk-mallory", auth.No, "", ""},
		{"valid key", "Bearer sk-alice", auth.Yes, "alice", "gold"},
		{"key without subject", "Bearer sk-anon", auth.Yes, "apikey-1", auth.DefaultTier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/chat", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			res := a.Authenticate(context.Background(), r)
			if res.Decision != tt.want {
				t.Fatalf("Decision = %s, want %s", res.Decision, tt.want)
			}
			if tt.want != auth.Yes {
				return
			}
			if res.Identity.Subject != tt.wantSubject || res.Identity.Tier != tt.wantTier {
				t.Errorf("identity = %+v", res.Identity)
			}
		})
	}
}

func TestIdentityIsCopied(t *testing.T) {
	a := New([]config.APIKeyConfig{{Key: "k", Subject: "alice"}})
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer k")

	first := a.Authenticate(context.Background(), r)
	first.Identity.Subject = "mutated"

	second := a.Authenticate(context.Background(), r)
	if second.Identity.Subject != "alice" {
		t.Errorf("stored identity was modified: %q", second.Identity.Subject)
	}
}
