package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/conorfennell/cardwise/internal/auth"
	"github.com/conorfennell/cardwise/internal/domain"
	"github.com/conorfennell/cardwise/internal/importer"
	"github.com/conorfennell/cardwise/internal/review"
	"github.com/conorfennell/cardwise/internal/scheduler"
	"github.com/conorfennell/cardwise/internal/storage"
)

// Reviewer is the review workflow the API exposes. *review.Service
// satisfies it.
type Reviewer interface {
	Grade(ctx context.Context, userID, cardID string, outcome scheduler.Outcome) (review.GradeResult, error)
	Due(ctx context.Context, scope domain.Scope, limit int) ([]domain.Flashcard, error)
	Progress(ctx context.Context, scope domain.Scope) (review.Snapshot, error)
	Card(ctx context.Context, userID, cardID string) (domain.Flashcard, []domain.ReviewLog, error)
	Preview(ctx context.Context, userID, cardID string) (map[scheduler.Outcome]domain.Flashcard, error)
}

// Sources manages note sources. *storage.DB satisfies it.
type Sources interface {
	ListSources(ctx context.Context, userID string) ([]storage.Source, error)
	DeleteSource(ctx context.Context, userID string, sourceID int64) error
}

// Syncer imports notes. *importer.Importer satisfies it.
type Syncer interface {
	AddSource(ctx context.Context, userID, path string) (int64, error)
	Run(ctx context.Context, userID string) (importer.Report, error)
}

// Server holds the dependencies for the HTTP API.
type Server struct {
	reviews  Reviewer
	sources  Sources
	syncer   Syncer
	auth     *auth.Authenticator
	validate *validator.Validate
	router   *http.ServeMux
	handler  http.Handler
}

// NewServer creates and configures a new server. Every /api/ route
// requires a bearer token.
func NewServer(reviews Reviewer, sources Sources, syncer Syncer, authn *auth.Authenticator) *Server {
	s := &Server{
		reviews:  reviews,
		sources:  sources,
		syncer:   syncer,
		auth:     authn,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		router:   http.NewServeMux(),
	}
	s.routes()
	s.handler = alice.New(
		hlog.NewHandler(log.Logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(accessLog),
	).Then(s.router)
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	api := alice.New(s.auth.Middleware)

	s.router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Handle("GET /api/cards/due", api.ThenFunc(s.handleDue))
	s.router.Handle("GET /api/cards/{id}", api.ThenFunc(s.handleCard))
	s.router.Handle("GET /api/cards/{id}/preview", api.ThenFunc(s.handlePreview))
	s.router.Handle("POST /api/cards/{id}/grade", api.ThenFunc(s.handleGrade))
	s.router.Handle("GET /api/progress", api.ThenFunc(s.handleProgress))

	s.router.Handle("GET /api/sources", api.ThenFunc(s.handleListSources))
	s.router.Handle("POST /api/sources", api.ThenFunc(s.handleAddSource))
	s.router.Handle("DELETE /api/sources/{id}", api.ThenFunc(s.handleDeleteSource))
	s.router.Handle("POST /api/sync", api.ThenFunc(s.handleSync))
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Stringer("url", r.URL).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("response-encode-failed")
	}
}

// writeError maps domain and storage errors to status codes. Anything
// unrecognised is logged and reported as a 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, scheduler.ErrInvalidOutcome),
		errors.Is(err, importer.ErrOutsideNotesDir), errors.Is(err, importer.ErrInvalidSource):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, scheduler.ErrInvalidCard):
		status = http.StatusUnprocessableEntity
	}

	msg := err.Error()
	ev := hlog.FromRequest(r).Warn()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
		ev = hlog.FromRequest(r).Error()
	}
	ev.Err(err).Int("status", status).Msg("request-failed")
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// userID returns the authenticated user. The auth middleware guarantees one
// on every /api/ route.
func userID(r *http.Request) string {
	if u := auth.UserFromContext(r.Context()); u != nil {
		return u.ID
	}
	return ""
}

func logger(r *http.Request) *zerolog.Logger {
	return hlog.FromRequest(r)
}
