package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/flockchat/users-api/internal/presence"
	"github.com/flockchat/users-api/internal/services"
	"github.com/flockchat/users-api/internal/store"
	"github.com/flockchat/users-api/internal/token"
)

const authChallenge = `Bearer realm="Authentication Required"`

// Gate resolves caller identity for incoming requests. Every successful
// resolution also touches the caller's presence, so any authenticated
// request keeps its user online regardless of which endpoint it hits.
type Gate struct {
	verifier    token.Verifier
	presence    *presence.Engine
	userService *services.UserService
}

func NewGate(verifier token.Verifier, presenceEngine *presence.Engine, userService *services.UserService) *Gate {
	return &Gate{
		verifier:    verifier,
		presence:    presenceEngine,
		userService: userService,
	}
}

// RequireToken rejects requests that do not carry a valid bearer token.
func (g *Gate) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeAuthRequired(w)
			return
		}

		userID, err := g.verifier.Verify(tokenString)
		if err != nil {
			writeAuthRequired(w)
			return
		}

		g.admit(w, r, next, userID)
	})
}

// OptionalToken resolves a bearer token when one is presented. Requests
// without a usable token proceed anonymously; a valid token is treated
// exactly as it would be on a protected route, touch included.
func (g *Gate) OptionalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := g.verifier.Verify(tokenString)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		g.admit(w, r, next, userID)
	})
}

// RequireBasic authenticates with a nickname/password pair. It exists
// for the one endpoint clients call before they hold a token.
func (g *Gate) RequireBasic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nickname, password, ok := r.BasicAuth()
		if !ok || nickname == "" || password == "" {
			writeAuthRequired(w)
			return
		}

		user, err := g.userService.GetByNickname(r.Context(), nickname)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeAuthRequired(w)
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
			return
		}
		if !user.CheckPassword(password) {
			writeAuthRequired(w)
			return
		}

		g.admit(w, r, next, user.ID)
	})
}

// admit records activity for the resolved user and runs the handler with
// the caller attached. If the touch cannot be persisted the request is
// aborted: a request must never proceed as authenticated without its
// presence side effect.
func (g *Gate) admit(w http.ResponseWriter, r *http.Request, next http.Handler, userID int64) {
	if err := g.presence.Touch(r.Context(), userID); err != nil {
		if errors.Is(err, presence.ErrUnknownUser) {
			writeError(w, http.StatusInternalServerError, "account for credential no longer exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record activity")
		return
	}

	ctx := withCaller(r.Context(), Caller{UserID: userID})
	next.ServeHTTP(w, r.WithContext(ctx))
}

// writeAuthRequired rejects with 401 and the bearer challenge clients
// watch for to trigger a token refresh.
func writeAuthRequired(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", authChallenge)
	writeError(w, http.StatusUnauthorized, "authentication required")
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
