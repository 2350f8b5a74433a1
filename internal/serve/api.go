package serve

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/internal/bridge"
)

const requestIDHeader = "X-Request-Id"

// maxIntakeBody bounds HTTP intake request bodies.
const maxIntakeBody = 1 << 20

type ctxKey string

const requestIDKey ctxKey = "request_id"

// APIResponse is the base envelope for all API responses.
type APIResponse struct {
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

// APIError represents a structured error response.
type APIError struct {
	APIResponse
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeServiceUnavail   = "SERVICE_UNAVAILABLE"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	APIResponse
	ClientCount   int                    `json:"client_count"`
	Clients       []bridge.ClientSummary `json:"clients"`
	UptimeSeconds float64                `json:"uptime_seconds"`
}

// TextSubmission is the body of POST /api/v1/voice/text.
type TextSubmission struct {
	Text       *string  `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// AgentSubmission is the body of POST /api/v1/voice/agent.
type AgentSubmission struct {
	Text          *string               `json:"text"`
	AgentResponse *bridge.AgentResponse `json:"agent_response"`
}

// SubmitResponse reports how many clients received a submission.
type SubmitResponse struct {
	APIResponse
	Recipients int `json:"recipients"`
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := sanitizeRequestID(r.Header.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recovererMiddleware catches panics and returns a proper JSON error response.
func (s *Server) recovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				reqID := requestIDFromContext(r.Context())
				s.logger.Error("panic recovered", "panic", rec, "request_id", reqID, "stack", string(debug.Stack()))
				writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error", reqID)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", requestIDFromContext(r.Context()))
	})
}

// intakeAuthMiddleware enforces the intake bearer token when configured.
func (s *Server) intakeAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.IntakeToken != "" {
			token := extractBearerToken(r)
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.IntakeToken)) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid intake token", requestIDFromContext(r.Context()))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  "healthy",
		"clients": s.bridge.Registry.Count(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	clients := s.bridge.Registry.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		APIResponse:   newAPIResponse(requestIDFromContext(r.Context())),
		ClientCount:   len(clients),
		Clients:       clients,
		UptimeSeconds: s.bridge.Uptime().Seconds(),
	})
}

func (s *Server) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	// Delivery runs on the server context, not the request's.
	var body TextSubmission
	if err := decodeBody(w, r, &body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), reqID)
		return
	}
	if body.Text == nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "text is required", reqID)
		return
	}
	sent, err := s.bridge.Intake.SubmitText(s.baseCtx, *body.Text, body.Confidence)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), reqID)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{APIResponse: newAPIResponse(reqID), Recipients: sent})
}

func (s *Server) handleSubmitAgent(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	var body AgentSubmission
	if err := decodeBody(w, r, &body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), reqID)
		return
	}
	if body.Text == nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "text is required", reqID)
		return
	}
	if body.AgentResponse == nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "agent_response is required", reqID)
		return
	}
	sent := s.bridge.Intake.SubmitAgentResult(s.baseCtx, *body.Text, *body.AgentResponse)
	writeJSON(w, http.StatusOK, SubmitResponse{APIResponse: newAPIResponse(reqID), Recipients: sent})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIntakeBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func newAPIResponse(reqID string) APIResponse {
	return APIResponse{
		Success:   true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: reqID,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes a structured error response.
func writeErrorResponse(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, APIError{
		APIResponse: APIResponse{
			Success:   false,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			RequestID: requestID,
		},
		Error:     message,
		ErrorCode: code,
	})
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	val, ok := ctx.Value(requestIDKey).(string)
	if !ok {
		return ""
	}
	return val
}

// sanitizeRequestID accepts caller-supplied ids that are short and printable.
func sanitizeRequestID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 128 {
		return ""
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return id
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.Fields(auth)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
