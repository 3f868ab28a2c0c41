package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"semaphore/provisioning/internal/auth"
	"semaphore/provisioning/internal/policy"
	"semaphore/provisioning/internal/provisioning"
)

const maxBodyBytes = 1 << 20

type Provisioner interface {
	CreateSchoolAdmin(ctx context.Context, caller policy.Caller, req policy.AccountRequest, idempotencyKey string) (provisioning.Result, error)
	CreateUser(ctx context.Context, caller policy.Caller, req policy.AccountRequest, idempotencyKey string) (provisioning.Result, error)
}

type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

type Server struct {
	provisioner Provisioner
	tokens      TokenParser
	gatherer    prometheus.Gatherer
	logger      *zap.Logger
}

func NewServer(provisioner Provisioner, tokens TokenParser, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		provisioner: provisioner,
		tokens:      tokens,
		gatherer:    gatherer,
		logger:      logger.Named("http"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/createSchoolAdmin", s.handleCreateSchoolAdmin)
		r.Post("/createUser", s.handleCreateUser)
	})

	return r
}

// callableRequest is the envelope every callable endpoint receives.
type callableRequest struct {
	Data accountPayload `json:"data"`
}

type accountPayload struct {
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	SchoolID string `json:"schoolId"`
	ClassID  string `json:"classId,omitempty"`
	ParentID string `json:"parentId,omitempty"`
}

func (p accountPayload) request() policy.AccountRequest {
	return policy.AccountRequest{
		Name:     p.Name,
		Surname:  p.Surname,
		Email:    p.Email,
		Password: p.Password,
		Role:     policy.Role(p.Role),
		SchoolID: p.SchoolID,
		ClassID:  p.ClassID,
		ParentID: p.ParentID,
	}
}

type callableResult struct {
	UID     string `json:"uid"`
	Message string `json:"message"`
}

type callableError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleCreateSchoolAdmin(w http.ResponseWriter, r *http.Request) {
	var req callableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, &policy.Error{Kind: policy.KindInvalidArgument, Message: "invalid_request"})
		return
	}
	result, err := s.provisioner.CreateSchoolAdmin(r.Context(), callerFromContext(r.Context()), req.Data.request(), idempotencyKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req callableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, &policy.Error{Kind: policy.KindInvalidArgument, Message: "invalid_request"})
		return
	}
	result, err := s.provisioner.CreateUser(r.Context(), callerFromContext(r.Context()), req.Data.request(), idempotencyKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

// authMiddleware resolves the caller. A missing token yields an anonymous caller so
// the policy reports the denial; a token that fails verification is rejected here.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := policy.Caller{}
		if token := bearerToken(r.Header.Get("Authorization")); token != "" {
			claims, err := s.tokens.ParseToken(token)
			if err != nil {
				s.logger.Debug("token rejected", zap.Error(err))
				writeError(w, &policy.Error{Kind: policy.KindUnauthenticated, Message: "invalid_token"})
				return
			}
			caller = claims.Caller()
		}
		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type callerKey struct{}

func callerFromContext(ctx context.Context) policy.Caller {
	caller, _ := ctx.Value(callerKey{}).(policy.Caller)
	return caller
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeResult(w http.ResponseWriter, result provisioning.Result) {
	writeJSON(w, http.StatusOK, map[string]callableResult{
		"result": {UID: result.UID, Message: result.Message},
	})
}

func writeError(w http.ResponseWriter, err error) {
	kind := policy.KindOf(err)
	message := policy.MessageOf(err)
	var pe *policy.Error
	if !errors.As(err, &pe) {
		message = "internal_error"
	}
	writeJSON(w, statusFor(kind), map[string]callableError{
		"error": {Status: string(kind), Message: message},
	})
}

func statusFor(kind policy.Kind) int {
	switch kind {
	case policy.KindUnauthenticated:
		return http.StatusUnauthorized
	case policy.KindPermissionDenied:
		return http.StatusForbidden
	case policy.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
