package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/conorfennell/cardwise/internal/domain"
	"github.com/conorfennell/cardwise/internal/scheduler"
)

var errBadRequest = errors.New("bad request")

type cardResponse struct {
	ID           string     `json:"id"`
	CourseID     string     `json:"course_id"`
	ModuleID     string     `json:"module_id"`
	LessonID     string     `json:"lesson_id"`
	NoteID       string     `json:"note_id,omitempty"`
	Question     string     `json:"question"`
	Answer       string     `json:"answer"`
	Context      string     `json:"context,omitempty"`
	EaseFactor   float64    `json:"ease_factor"`
	Interval     int        `json:"interval"`
	Repetitions  int        `json:"repetitions"`
	LastReviewed *time.Time `json:"last_reviewed"`
	NextReview   *time.Time `json:"next_review"`
	LastOutcome  string     `json:"last_outcome,omitempty"`
}

func toCard(f domain.Flashcard) cardResponse {
	c := cardResponse{
		ID:           f.ID,
		CourseID:     f.CourseID,
		ModuleID:     f.ModuleID,
		LessonID:     f.LessonID,
		NoteID:       f.NoteID,
		Question:     f.Question,
		Answer:       f.Answer,
		Context:      f.Context,
		EaseFactor:   f.EaseFactor,
		Interval:     f.Interval,
		Repetitions:  f.Repetitions,
		LastReviewed: f.LastReviewed,
		NextReview:   f.NextReview,
	}
	if f.LastOutcome != 0 {
		c.LastOutcome = scheduler.Outcome(f.LastOutcome).String()
	}
	return c
}

type reviewLogResponse struct {
	Outcome     string    `json:"outcome"`
	ReviewedAt  time.Time `json:"reviewed_at"`
	Interval    int       `json:"interval"`
	EaseFactor  float64   `json:"ease_factor"`
	Repetitions int       `json:"repetitions"`
}

func scopeFrom(r *http.Request) domain.Scope {
	q := r.URL.Query()
	return domain.Scope{
		UserID:   userID(r),
		CourseID: q.Get("course"),
		ModuleID: q.Get("module"),
		LessonID: q.Get("lesson"),
	}
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleDue(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("%w: invalid limit %q", errBadRequest, v))
			return
		}
		limit = n
	}
	cards, err := s.reviews.Due(r.Context(), scopeFrom(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]cardResponse, 0, len(cards))
	for _, c := range cards {
		resp = append(resp, toCard(c))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"cards": resp})
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	card, logs, err := s.reviews.Card(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	history := make([]reviewLogResponse, 0, len(logs))
	for _, l := range logs {
		history = append(history, reviewLogResponse{
			Outcome:     scheduler.Outcome(l.Outcome).String(),
			ReviewedAt:  l.ReviewedAt,
			Interval:    l.Interval,
			EaseFactor:  l.EaseFactor,
			Repetitions: l.Repetitions,
		})
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"card": toCard(card), "history": history})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.reviews.Preview(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make(map[string]cardResponse, len(preview))
	for o, c := range preview {
		resp[o.String()] = toCard(c)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type gradeRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

type gradeResponse struct {
	Card      cardResponse `json:"card"`
	Awarded   int64        `json:"awarded"`
	Points    int64        `json:"points"`
	Level     int          `json:"level"`
	LeveledUp bool         `json:"leveled_up"`
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	outcome, err := scheduler.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.reviews.Grade(r.Context(), userID(r), r.PathValue("id"), outcome)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, gradeResponse{
		Card:      toCard(res.Card),
		Awarded:   res.Awarded,
		Points:    res.Points,
		Level:     res.Level,
		LeveledUp: res.LeveledUp,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reviews.Progress(r.Context(), scopeFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

type sourceResponse struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	LastScanned *time.Time `json:"last_scanned"`
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.sources.ListSources(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		sr := sourceResponse{ID: src.ID, Path: src.Path, Type: src.Type}
		if src.LastScanned.Valid {
			t := src.LastScanned.Time
			sr.LastScanned = &t
		}
		resp = append(resp, sr)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"sources": resp})
}

type addSourceRequest struct {
	Path string `json:"path" validate:"required"`
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.syncer.AddSource(r.Context(), userID(r), req.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger(r).Info().Int64("source", id).Str("path", req.Path).Msg("source-added")
	writeJSON(w, r, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid source id", errBadRequest))
		return
	}
	if err := s.sources.DeleteSource(r.Context(), userID(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.syncer.Run(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}
