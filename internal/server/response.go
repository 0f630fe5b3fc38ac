package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	reqctx "github.com/ricesearch/rice-clickmodels/internal/pkg/context"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/security"
)

// ResponseMeta contains metadata for API responses.
type ResponseMeta struct {
	RequestID string `json:"request_id"`
	LatencyMS int64  `json:"latency_ms"`
	Timestamp string `json:"timestamp"`
}

// WrappedResponse wraps API responses with data and metadata.
type WrappedResponse struct {
	Data json.RawMessage `json:"data"`
	Meta ResponseMeta    `json:"meta"`
}

// responseWrapper captures the response body for wrapping.
type responseWrapper struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	wroteBody  bool
}

func newResponseWrapper(w http.ResponseWriter) *responseWrapper {
	return &responseWrapper{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
}

func (rw *responseWrapper) Write(b []byte) (int, error) {
	rw.wroteBody = true
	return rw.body.Write(b)
}

// unwrappedPaths are /v1 endpoints returned as-is.
var unwrappedPaths = map[string]bool{
	"/v1/version": true,
}

// ResponseWrapperMiddleware wraps successful JSON responses of /v1/*
// endpoints in a data/meta envelope. Errors pass through untouched.
func ResponseWrapperMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") || unwrappedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 || security.SanitizeForLog(requestID) != requestID {
			requestID = GenerateRequestID()
		}

		rw := newResponseWrapper(w)
		next.ServeHTTP(rw, r.WithContext(reqctx.WithRequestID(r.Context(), requestID)))

		w.Header().Set("X-Request-ID", requestID)
		body := bytes.TrimSpace(rw.body.Bytes())
		if !rw.wroteBody || rw.statusCode >= 400 || !json.Valid(body) {
			w.WriteHeader(rw.statusCode)
			_, _ = w.Write(rw.body.Bytes())
			return
		}

		wrapped := WrappedResponse{
			Data: body,
			Meta: ResponseMeta{
				RequestID: requestID,
				LatencyMS: time.Since(start).Milliseconds(),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rw.statusCode)
		// headers already sent
		_ = json.NewEncoder(w).Encode(wrapped)
	})
}

// GenerateRequestID generates a short unique request ID.
func GenerateRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
