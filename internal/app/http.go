package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remember/api/internal/auth"
	"remember/api/internal/cascade"
)

const (
	callablePrefix = "/api/v1/"
	// A 5 MB image grows by a third as a base64 data URL.
	maxBodyBytes = 8 << 20
)

type handlerFunc func(ctx context.Context, caller Caller, data json.RawMessage) (Result, error)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
	handlers   map[string]handlerFunc
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        service.log,
		handlers: map[string]handlerFunc{
			"createround":        service.CreateRound,
			"updateround":        service.UpdateRound,
			"deleteround":        service.DeleteRound,
			"moveround":          service.MoveRound,
			"setroundsorder":     service.SetRoundsOrder,
			"createtask":         service.CreateTask,
			"updatetask":         service.UpdateTask,
			"deletetask":         service.DeleteTask,
			"movetimesofday":     service.MoveTimesOfDay,
			"setprogress":        service.SetProgress,
			"unmarktoday":        service.UnmarkToday,
			"uploadprofileimage": service.UploadProfileImage,
			"deleteuserimage":    service.DeleteUserImage,
		},
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/internal/events/user-deleted" {
		s.handleUserDeleted(w, r)
		return
	}

	if name, ok := strings.CutPrefix(r.URL.Path, callablePrefix); ok {
		handler, found := s.handlers[name]
		if !found {
			writeError(w, http.StatusNotFound, "not-found", "Not found", nil)
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method-not-allowed", "Use POST", nil)
			return
		}
		s.handleCallable(w, r, name, handler)
		return
	}

	writeError(w, http.StatusNotFound, "not-found", "Not found", nil)
}

// handleCallable authenticates the caller, unwraps {"data": ...} and runs one
// handler. Unexpected errors and panics are logged and reported as internal.
func (s *HTTPServer) handleCallable(w http.ResponseWriter, r *http.Request, name string, handler handlerFunc) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, &body); err != nil {
		s.writeDomainError(w, invalidArgument("", err.Error()))
		return
	}

	log := s.log.With().Str("handler", name).Str("uid", caller.UID).Logger()
	result, err := s.invoke(r.Context(), log, handler, caller, body.Data)
	if err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			log.Error().Err(err).Msg("handler failed")
		}
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) invoke(ctx context.Context, log zerolog.Logger, handler handlerFunc, caller Caller, data json.RawMessage) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("handler panicked")
			result, err = nil, internalError()
		}
	}()
	return handler(ctx, caller, data)
}

func (s *HTTPServer) requireCaller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	token := bearerToken(r)
	if token == "" {
		s.writeDomainError(w, permissionDenied("Sign in to use this functionality."))
		return Caller{}, false
	}
	caller, err := s.service.CallerFromToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			s.writeDomainError(w, permissionDenied("Your session has expired."))
			return Caller{}, false
		}
		s.writeDomainError(w, permissionDenied("Sign in to use this functionality."))
		return Caller{}, false
	}
	return caller, true
}

// handleUserDeleted receives account deletions from the identity provider.
func (s *HTTPServer) handleUserDeleted(w http.ResponseWriter, r *http.Request) {
	expected := s.service.SyncToken()
	provided := r.Header.Get("X-Sync-Token")
	if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", nil)
		return
	}

	var event cascade.Event
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := decodeBody(r, &event); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, err.Error(), nil)
		return
	}

	result, err := s.service.UserDeleted(r.Context(), event)
	if errors.Is(err, cascade.ErrInvalidEvent) {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "Invalid event", err.Error())
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("event_id", event.EventID).Str("uid", event.UID).Msg("user deletion failed")
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
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

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body is larger than %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body")
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	internal := internalError()
	return internal.Status, internal.Code, internal.Message, internal.Details
}
