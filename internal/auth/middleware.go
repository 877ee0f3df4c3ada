package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	loggerpkg "github.com/NVibeAI/cfo-fpa-crew-ai/pkg/logger"
)

// MiddlewareConfig controls how the authentication middleware guards a route.
type MiddlewareConfig struct {
	// RequiredPermissions maps an HTTP method to the permissions a caller
	// must hold. The "*" key applies to methods without an explicit entry.
	RequiredPermissions map[string][]string
	// AuditEvent names the event in the audit log. Defaults to the path.
	AuditEvent string
}

// Middleware returns an HTTP middleware that authenticates the bearer token,
// enforces the configured permissions and writes an audit record for every
// request that passes. With authentication disabled it is a passthrough.
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrSubjectRevoked) {
					status = http.StatusForbidden
				}
				s.deny(w, r, "access_denied", status, err, "")
				return
			}

			perms := cfg.RequiredPermissions[r.Method]
			if len(perms) == 0 {
				perms = cfg.RequiredPermissions["*"]
			}
			if len(perms) > 0 {
				if err := subject.Authorize(perms...); err != nil {
					s.deny(w, r, "permission_denied", http.StatusForbidden, err, subject.Username)
					return
				}
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))

			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.auditLogger().Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", subject.Username,
			)
		})
	}
}

func (s *Service) deny(w http.ResponseWriter, r *http.Request, event string, status int, cause error, user string) {
	http.Error(w, http.StatusText(status), status)
	fields := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", cause.Error(),
	}
	if user != "" {
		fields = append(fields, "user", user)
	}
	s.auditLogger().Warn(event, fields...)
}

func (s *Service) auditLogger() *slog.Logger {
	if s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}

// auditWriter captures the status code written by the wrapped handler.
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
