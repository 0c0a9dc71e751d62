package auth

import "errors"

var (
	// ErrUnauthorized means no usable principal was presented; the
	// front-end answers 401 with a bearer challenge.
	ErrUnauthorized = errors.New("authentication required")
	// ErrDenied means the principal exists but lacks scope; 403.
	ErrDenied = errors.New("access denied")
)

// Gate applies the access policy to (principal, repo, action) triples.
type Gate struct {
	requireAuth        bool
	allowAnonymousPull bool
	isPublic           func(repo string) bool
}

// NewGate builds a gate. isPublic reports whether a repository is marked
// public for anonymous pull; nil means no repository is.
func NewGate(requireAuth, allowAnonymousPull bool, isPublic func(string) bool) *Gate {
	if isPublic == nil {
		isPublic = func(string) bool { return false }
	}
	return &Gate{
		requireAuth:        requireAuth,
		allowAnonymousPull: allowAnonymousPull,
		isPublic:           isPublic,
	}
}

// Authorize decides whether p may perform action on repo.
func (g *Gate) Authorize(p Principal, repo string, action Action) error {
	switch p.Kind {
	case KindAdmin:
		return nil

	case KindUser:
		if p.Can(repo, action) {
			return nil
		}
		return ErrDenied

	default: // KindAnonymous
		if !g.requireAuth {
			return nil
		}
		if action == ActionPull && g.allowAnonymousPull && g.isPublic(repo) {
			return nil
		}
		return ErrUnauthorized
	}
}

// AuthorizeBase gates endpoints without a repository scope, such as
// /v2/ and the catalog.
func (g *Gate) AuthorizeBase(p Principal) error {
	if p.Kind != KindAnonymous || !g.requireAuth {
		return nil
	}
	return ErrUnauthorized
}
