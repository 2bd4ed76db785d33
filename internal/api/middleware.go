package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/identity"
)

type ctxKey int

const userCtxKey ctxKey = iota

// RequestLogger logs every request with method, path, status and latency,
// routed through the application's zap logger rather than stdlib's log
// package.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Authenticate requires a "Bearer <sessionToken>" Authorization header,
// resolves it via identity.Service.CurrentUser, and stores the resulting
// *db.User on the request context. All non-auth endpoints depend on this
// per spec.md §6.1.
func Authenticate(identitySvc *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, apperr.AuthFailed)
				return
			}
			user, err := identitySvc.CurrentUser(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), userCtxKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// currentUser retrieves the authenticated *db.User stashed by Authenticate.
// Panics if called on an unauthenticated route — a programming error, not
// a runtime condition to recover from.
func currentUser(r *http.Request) *db.User {
	return r.Context().Value(userCtxKey).(*db.User)
}
