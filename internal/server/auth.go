package server

import (
	"encoding/gob"
	"net/http"

	"github.com/gorilla/sessions"

	apperrors "github.com/48Nauts-Operator/lineary-realtime/internal/errors"
)

// Session cookie contract shared with the auth service.
const (
	sessionName           = "lineary-session"
	sessionKeyUserID      = "user_id"
	sessionKeySessionID   = "session_id"
	sessionKeyPermissions = "permissions"

	sessionMaxAgeDays = 7
)

func init() {
	// The auth service stores permissions as a string slice.
	gob.Register([]string{})
}

// Identity is what the handshake learns about a client. Empty UserID
// and SessionID mean an anonymous connection, reachable only by its
// connection id and rooms.
type Identity struct {
	UserID      string
	SessionID   string
	Permissions []string
}

// Authenticator resolves the identity behind an upgrade request.
// Authentication itself lives in the auth service; the distribution
// core trusts whatever the implementation returns.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// CookieAuthenticator reads the cookie session the auth service writes
// with the shared secret.
type CookieAuthenticator struct {
	store          *sessions.CookieStore
	allowAnonymous bool
}

func NewCookieAuthenticator(secret string, secure, allowAnonymous bool) *CookieAuthenticator {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * sessionMaxAgeDays,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &CookieAuthenticator{store: store, allowAnonymous: allowAnonymous}
}

func (a *CookieAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	session, err := a.store.Get(r, sessionName)
	if err != nil {
		return a.anonymous()
	}

	userID, ok := session.Values[sessionKeyUserID].(string)
	if !ok || userID == "" {
		return a.anonymous()
	}

	identity := Identity{UserID: userID}
	if sid, ok := session.Values[sessionKeySessionID].(string); ok {
		identity.SessionID = sid
	}
	if perms, ok := session.Values[sessionKeyPermissions].([]string); ok {
		identity.Permissions = perms
	}
	return identity, nil
}

// anonymous resolves an unauthenticated request: an empty identity when
// anonymous connections are allowed, a 401 otherwise.
func (a *CookieAuthenticator) anonymous() (Identity, error) {
	if a.allowAnonymous {
		return Identity{}, nil
	}
	return Identity{}, apperrors.UnauthorizedError("no authenticated session")
}
