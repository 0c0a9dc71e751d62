package auth

import (
	"crypto/subtle"

	"github.com/bnema/wharf/internal/config"
)

// Verifier turns a bearer token into a Principal. The core never
// inspects tokens itself; implementations live at the edge.
type Verifier interface {
	Verify(token string) (Principal, bool)
}

// StaticVerifier matches tokens against a fixed table, the standalone
// deployment mode. Installations fronted by an identity provider swap in
// their own Verifier.
type StaticVerifier struct {
	entries []staticEntry
}

type staticEntry struct {
	token     string
	principal Principal
}

// NewStaticVerifier builds a verifier from the configured token table.
func NewStaticVerifier(tokens []config.TokenConfig) *StaticVerifier {
	v := &StaticVerifier{}
	for _, t := range tokens {
		p := Principal{Kind: KindUser, Subject: t.Subject}
		if t.Admin {
			p.Kind = KindAdmin
		}
		for _, g := range t.Grants {
			grant := Grant{Repo: g.Repo}
			for _, a := range g.Actions {
				grant.Actions = append(grant.Actions, Action(a))
			}
			p.Grants = append(p.Grants, grant)
		}
		v.entries = append(v.entries, staticEntry{token: t.Token, principal: p})
	}
	return v
}

// Verify looks up token with constant-time comparison.
func (v *StaticVerifier) Verify(token string) (Principal, bool) {
	for _, e := range v.entries {
		if subtle.ConstantTimeCompare([]byte(e.token), []byte(token)) == 1 {
			return e.principal, true
		}
	}
	return Principal{}, false
}
