package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/putto11262002/projectchat/core"
	"github.com/putto11262002/projectchat/pkg/router"
)

const key sessionKey = "session"

type sessionKey string

// Session is the authenticated user of a request.
type Session struct {
	UserID   string
	UserName string
}

func contextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, key, session)
}

// SessionFromRequest extracts the session from the request context.
// It must be called in handlers that are protected by the BearerMiddleware.
// It panics if the session is not found in the request context.
func SessionFromRequest(r *http.Request) Session {
	session, ok := r.Context().Value(key).(Session)
	if !ok {
		panic("session not found in request context: call this function in handlers that are protected by BearerMiddleware")
	}
	return session
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	// browsers cannot set headers on websocket handshakes
	return r.URL.Query().Get("token")
}

// BearerMiddleware verifies the bearer token and attaches the session to the request context.
func BearerMiddleware(secret []byte) router.Middleware {
	return func(next http.Handler) router.HandlerFunc {
		authErr := router.NewJsonError(http.StatusUnauthorized, "unauthenticated")

		return func(w http.ResponseWriter, r *http.Request) error {
			token := bearerToken(r)
			if token == "" {
				return authErr
			}

			claims, err := core.VerifyToken(token, secret)
			if err != nil {
				if errors.Is(err, core.ErrTokenExpired) {
					return router.WrapJsonError(http.StatusUnauthorized, err)
				}
				return authErr
			}

			session := Session{UserID: claims.Subject, UserName: claims.UserName}
			next.ServeHTTP(w, r.WithContext(contextWithSession(r.Context(), session)))
			return nil
		}
	}
}
