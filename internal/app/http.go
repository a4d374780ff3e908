package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agora/api/internal/logging"
	"agora/api/internal/rbac"
	"agora/api/internal/upload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

type authedHandler func(w http.ResponseWriter, r *http.Request, p *rbac.Principal)

func (s *HTTPServer) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("GET /api/ready", s.handleReady)

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/me", s.authed(s.handleMe))
	mux.HandleFunc("POST /api/auth/logout", s.authed(s.handleLogout))

	mux.HandleFunc("GET /api/forums/{forumType}", s.authed(s.handleListThreads))
	mux.HandleFunc("POST /api/forums/{forumType}/threads", s.authed(s.handleCreateThread))
	mux.HandleFunc("GET /api/forums/threads/{id}/messages", s.authed(s.handleThreadMessages))
	mux.HandleFunc("POST /api/forums/threads/{id}/messages", s.authed(s.handlePostMessage))
	mux.HandleFunc("POST /api/forums/messages/{id}/reaction", s.authed(s.handleReact))
	mux.HandleFunc("DELETE /api/forums/messages/{id}", s.authed(s.handleDeleteMessage))

	mux.HandleFunc("GET /api/search", s.authed(s.handleSearch))

	mux.HandleFunc("GET /api/admin/pending", s.authed(s.handleListPending))
	mux.HandleFunc("GET /api/admin/members", s.authed(s.handleListMembers))
	mux.HandleFunc("POST /api/admin/users/{id}/approve", s.authed(s.handleApprove))
	mux.HandleFunc("POST /api/admin/users/{id}/reject", s.authed(s.handleReject))
	mux.HandleFunc("POST /api/admin/users/{id}/grant-admin", s.authed(s.handleGrantAdmin))
	mux.HandleFunc("POST /api/admin/users/{id}/revoke-admin", s.authed(s.handleRevokeAdmin))

	mux.HandleFunc("GET /api/users/profile", s.authed(s.handleMe))
	mux.HandleFunc("PUT /api/users/profile", s.authed(s.handleUpdateProfile))
	mux.HandleFunc("GET /api/users/{id}/messages", s.authed(s.handleUserMessages))

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})

	mux.Handle("GET /metrics", promhttp.Handler())
	if sink := s.service.Uploads(); sink != nil {
		mux.Handle("GET "+upload.PublicPrefix, http.StripPrefix(upload.PublicPrefix, sink.Handler()))
	}
	return mux
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"denylist": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if err := s.service.PingDenylist(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["denylist"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// authed resolves the bearer token into a principal. Which stages of the
// authorization chain apply is decided by the service call.
func (s *HTTPServer) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.service.SessionFromToken(r.Context(), bearerToken(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r, principal)
	}
}

// fail writes err as a JSON error. Internal errors are logged with their
// stack and never described to the client.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				logging.LogPanicValue(nil, recovered, "panic while serving request")
				if !writer.wroteHeader {
					writeError(writer, http.StatusInternalServerError, "INTERNAL", internalMessage)
				} else {
					writer.status = http.StatusInternalServerError
				}
			}

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			statusLabel := strconv.Itoa(writer.status)
			elapsed := time.Since(started)
			httpRequestsTotal.WithLabelValues(r.Method, route, statusLabel).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, statusLabel).Observe(elapsed.Seconds())

			logging.Info().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", writer.status).
				Int64("duration_ms", elapsed.Milliseconds()).
				Msg("request")
		}()

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(writer, r)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

func writeMessage(w http.ResponseWriter, status int, message string, extra map[string]any) {
	payload := map[string]any{"message": message}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, status, payload)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return badRequest("Invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
