// Package server implements the echohook HTTP API and webhook capture
// endpoints.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/auth"
	"github.com/rsclarke/echohook/internal/capture"
	"github.com/rsclarke/echohook/internal/models"
	"github.com/rsclarke/echohook/internal/ratelimit"
	"github.com/rsclarke/echohook/internal/store"
	"github.com/rsclarke/echohook/internal/tokens"
	"github.com/rsclarke/echohook/internal/types"
)

// Version is reported by the info endpoint.
var Version = "dev"

const maxJSONBody = 1 << 16

var errInvalidJSON = errors.New("Invalid JSON in request body")

type contextKey string

const identityContextKey contextKey = "tokenIdentity"

// Identity returns the token that authorized r, if any.
func Identity(r *http.Request) *models.TokenIdentity {
	id, _ := r.Context().Value(identityContextKey).(*models.TokenIdentity)
	return id
}

// APIServer serves the management API and the public capture endpoint.
type APIServer struct {
	Repo     *store.Repository
	Tokens   *tokens.Manager
	Capture  *capture.Pipeline
	Limiter  *ratelimit.Limiter // nil disables rate limiting
	AdminKey string
	// PublicURL is the base of advertised capture URLs. When empty it is
	// derived from each request.
	PublicURL string
	Backend   string
	Logger    *zap.Logger
}

// Handler returns the HTTP handler for the API server.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /auth/token", s.handleCreateToken)
	mux.HandleFunc("GET /auth/tokens", s.handleListTokens)
	mux.HandleFunc("DELETE /auth/tokens/{tokenId}", s.handleDeleteToken)

	mux.HandleFunc("GET /bins", s.handleListBins)
	mux.HandleFunc("POST /bins", s.handleCreateBin)
	mux.HandleFunc("GET /bins/{binId}", s.handleGetBin)
	mux.HandleFunc("PUT /bins/{binId}", s.handleUpdateBin)
	mux.HandleFunc("DELETE /bins/{binId}", s.handleDeleteBin)
	mux.HandleFunc("GET /bins/{binId}/requests", s.handleListRequests)

	mux.HandleFunc("/webhook/{binId}", s.handleCapture)

	mux.HandleFunc("/", s.handleNotFound)

	return s.logRequests(s.rateLimit(s.requireBearer(mux)))
}

func (s *APIServer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// bearerExempt reports whether path is reachable without a bearer token.
func bearerExempt(path string) bool {
	switch {
	case path == "/", path == "/healthz", path == "/auth/token":
		return true
	case strings.HasPrefix(path, "/webhook/"):
		return true
	}
	return false
}

// requireBearer validates the bearer token on every non-exempt route and
// consumes one unit of its daily quota.
func (s *APIServer) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bearerExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		secret, err := auth.ParseBearer(r.Header.Get("Authorization"))
		if err != nil {
			s.fail(w, r, err, "")
			return
		}

		id, err := s.Tokens.Validate(r.Context(), secret)
		if err != nil {
			s.fail(w, r, err, "Authentication service error")
			return
		}

		if info, ok := r.Context().Value(requestInfoContextKey).(*requestInfo); ok {
			info.tokenID = id.TokenID
		}
		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *APIServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.InfoResponse{
		Message:        "EchoHook - Webhook Bin Service",
		Version:        Version,
		Storage:        s.Backend,
		Authentication: "Token-based (Bearer tokens)",
		Endpoints: map[string]string{
			"createToken":    "POST /auth/token",
			"getTokens":      "GET /auth/tokens",
			"deleteToken":    "DELETE /auth/tokens/{tokenId}",
			"bins":           "GET /bins",
			"createBin":      "POST /bins",
			"getBin":         "GET /bins/{binId}",
			"updateBin":      "PUT /bins/{binId}",
			"deleteBin":      "DELETE /bins/{binId}",
			"getBinRequests": "GET /bins/{binId}/requests",
			"captureWebhook": "ANY /webhook/{binId}",
		},
	})
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Repo.Ping(r.Context()); err != nil {
		s.logger().Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, types.HealthResponse{Status: "unavailable", Storage: s.Backend})
		return
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{Status: "ok", Storage: s.Backend})
}

func (s *APIServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, types.Envelope[any]{Error: "Not found"})
}

func (s *APIServer) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if err := auth.VerifyAdminKey(s.AdminKey, r.Header.Get(auth.AdminHeader)); err != nil {
		s.logger().Warn("admin authorization failed", zap.String("remote", ratelimit.ClientIP(r)))
		s.fail(w, r, err, "")
		return
	}

	var req types.CreateTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	created, err := s.Tokens.Create(r.Context(), tokens.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		ExpiresIn:   string(req.ExpiresIn),
		DailyQuota:  req.DailyQuota,
	})
	if err != nil {
		s.fail(w, r, err, "Failed to create token")
		return
	}
	writeJSON(w, http.StatusCreated, types.Envelope[any]{Success: true, Data: created})
}

func (s *APIServer) handleListTokens(w http.ResponseWriter, r *http.Request) {
	list, err := s.Tokens.List(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to fetch tokens")
		return
	}
	writeJSON(w, http.StatusOK, types.Envelope[any]{Success: true, Data: list})
}

func (s *APIServer) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := s.Tokens.Delete(r.Context(), r.PathValue("tokenId")); err != nil {
		s.fail(w, r, err, "Failed to delete token")
		return
	}
	writeJSON(w, http.StatusOK, types.Envelope[any]{Success: true, Message: "Token deleted successfully"})
}

func (s *APIServer) handleListBins(w http.ResponseWriter, r *http.Request) {
	bins, err := s.Repo.ListBins(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to fetch bins")
		return
	}
	out := make([]types.BinResponse, len(bins))
	for i, b := range bins {
		out[i] = s.binResponse(r, b)
	}
	writeJSON(w, http.StatusOK, types.Envelope[any]{Success: true, Data: out})
}

func (s *APIServer) handleCreateBin(w http.ResponseWriter, r *http.Request) {
	var req types.CreateBinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	bin, err := s.Repo.CreateBin(r.Context(), store.BinInput{Name: req.Name, Description: req.Description})
	if err != nil {
		s.fail(w, r, err, "Failed to create bin")
		return
	}
	writeJSON(w, http.StatusCreated, types.Envelope[any]{Success: true, Data: s.binResponse(r, *bin)})
}

func (s *APIServer) handleGetBin(w http.ResponseWriter, r *http.Request) {
	bin, err := s.Repo.GetBin(r.Context(), r.PathValue("binId"))
	if err != nil {
		s.fail(w, r, err, "Failed to fetch bin")
		return
	}
	writeJSON(w, http.StatusOK, types.Envelope[any]{Success: true, Data: s.binResponse(r, *bin)})
}

func (s *APIServer) handleUpdateBin(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateBinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	bin, err := s.Repo.UpdateBin(r.Context(), r.PathValue("binId"), store.BinPatch{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		s.fail(w, r, err, "Failed to update bin")
		return
	}
	writeJSON(w, http.StatusOK, types.Envelope[any]{Success: true, Data: s.binResponse(r, *bin)})
}

func (s *APIServer) handleDeleteBin(w http.ResponseWriter, r *http.Request) {
	if err := s.Repo.DeleteBin(r.Context(), r.PathValue("binId")); err != nil {
		s.fail(w, r, err, "Failed to delete bin")
		return
	}
	writeJSON(w, http.StatusOK, types.Envelope[any]{Success: true, Message: "Bin and all requests deleted successfully"})
}

func (s *APIServer) handleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Repo.ListRequests(r.Context(), r.PathValue("binId"))
	if err != nil {
		s.fail(w, r, err, "Failed to fetch bin requests")
		return
	}
	writeJSON(w, http.StatusOK, types.Envelope[any]{Success: true, Data: reqs})
}

func (s *APIServer) binResponse(r *http.Request, b models.Bin) types.BinResponse {
	return types.BinResponse{Bin: b, CaptureURL: s.baseURL(r) + "/webhook/" + b.ID}
}

func (s *APIServer) baseURL(r *http.Request) string {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// statusFor maps a core error to its HTTP status. ok is false for errors
// that should not be shown to the caller.
func statusFor(err error) (status int, ok bool) {
	switch {
	case errors.Is(err, store.ErrInvalidID),
		errors.Is(err, tokens.ErrInvalidTokenID),
		errors.Is(err, tokens.ErrInvalidName),
		errors.Is(err, tokens.ErrInvalidQuota),
		errors.Is(err, errInvalidJSON):
		return http.StatusBadRequest, true
	case errors.Is(err, store.ErrBinNotFound),
		errors.Is(err, tokens.ErrTokenNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, capture.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, true
	case errors.Is(err, tokens.ErrQuotaExceeded):
		return http.StatusTooManyRequests, true
	case errors.Is(err, auth.ErrAdminKeyMissing):
		return http.StatusServiceUnavailable, true
	case errors.Is(err, auth.ErrAdminKeyInvalid),
		errors.Is(err, auth.ErrMissingAuthHeader),
		errors.Is(err, auth.ErrMalformedAuthHeader),
		errors.Is(err, auth.ErrEmptyBearerToken),
		errors.Is(err, tokens.ErrTokenRequired),
		errors.Is(err, tokens.ErrInvalidToken),
		errors.Is(err, tokens.ErrTokenInactive),
		errors.Is(err, tokens.ErrTokenExpired):
		return http.StatusUnauthorized, true
	}
	return http.StatusInternalServerError, false
}

// fail writes err as an error envelope. Unexpected errors are logged and
// replaced by fallback.
func (s *APIServer) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, ok := statusFor(err)
	msg := err.Error()
	if !ok {
		s.logger().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = fallback
		if msg == "" {
			msg = "Internal server error"
		}
	}
	writeJSON(w, status, types.Envelope[any]{Error: msg})
}

// decodeJSON reads a JSON object from r into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return nil
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return capture.ErrBodyTooLarge
		}
		return errInvalidJSON
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		return errInvalidJSON
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
