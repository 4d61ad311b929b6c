package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardwise/internal/auth"
	"github.com/conorfennell/cardwise/internal/domain"
	"github.com/conorfennell/cardwise/internal/importer"
	"github.com/conorfennell/cardwise/internal/progress"
	"github.com/conorfennell/cardwise/internal/review"
	"github.com/conorfennell/cardwise/internal/scheduler"
	"github.com/conorfennell/cardwise/internal/storage"
)

type testEnv struct {
	srv   *Server
	db    *storage.DB
	authn *auth.Authenticator
	notes string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sched, err := scheduler.New(scheduler.DefaultParams())
	require.NoError(t, err)
	svc := review.NewService(db, sched, progress.DefaultLadder(), progress.DefaultPointTable())
	authn := auth.NewAuthenticator("test-secret-test-secret", "cardwise", time.Hour)
	notes := t.TempDir()
	im := importer.New(db, notes, t.TempDir(), "")
	return &testEnv{srv: NewServer(svc, db, im, authn), db: db, authn: authn, notes: notes}
}

func (e *testEnv) do(t *testing.T, user, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user != "" {
		tok, err := e.authn.IssueToken(user, time.Now())
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addCard(t *testing.T, user, hash, lesson string) domain.Flashcard {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.db.EnsureUser(ctx, user))
	f, err := e.db.InsertFlashcard(ctx, domain.Flashcard{
		UserID: user, Hash: hash, Question: "q " + hash, Answer: "a " + hash,
		CourseID: "go", ModuleID: "basics", LessonID: lesson,
	})
	require.NoError(t, err)
	return f
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "", http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAPIRequiresToken(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "", http.MethodGet, "/api/cards/due", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDueAndGrade(t *testing.T) {
	e := newTestEnv(t)
	card := e.addCard(t, "u1", "h1", "vars")
	e.addCard(t, "u1", "h2", "loops")
	e.addCard(t, "u2", "h3", "vars")

	rec := e.do(t, "u1", http.MethodGet, "/api/cards/due?lesson=vars", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var due struct {
		Cards []cardResponse `json:"cards"`
	}
	decodeBody(t, rec, &due)
	require.Len(t, due.Cards, 1)
	assert.Equal(t, card.ID, due.Cards[0].ID)

	rec = e.do(t, "u1", http.MethodPost, "/api/cards/"+card.ID+"/grade", `{"outcome":"good"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var graded gradeResponse
	decodeBody(t, rec, &graded)
	assert.Equal(t, 1, graded.Card.Interval)
	assert.Equal(t, "good", graded.Card.LastOutcome)
	assert.Equal(t, int64(10), graded.Points)

	// Graded card is no longer due.
	rec = e.do(t, "u1", http.MethodGet, "/api/cards/due?lesson=vars", "")
	decodeBody(t, rec, &due)
	assert.Empty(t, due.Cards)

	rec = e.do(t, "u1", http.MethodGet, "/api/cards/"+card.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Card    cardResponse        `json:"card"`
		History []reviewLogResponse `json:"history"`
	}
	decodeBody(t, rec, &detail)
	require.Len(t, detail.History, 1)
	assert.Equal(t, "good", detail.History[0].Outcome)
}

func TestGradeErrors(t *testing.T) {
	e := newTestEnv(t)
	card := e.addCard(t, "u1", "h1", "vars")

	testCases := []struct {
		name   string
		user   string
		target string
		body   string
		status int
	}{
		{"unknown outcome", "u1", "/api/cards/" + card.ID + "/grade", `{"outcome":"perfect"}`, http.StatusBadRequest},
		{"missing outcome", "u1", "/api/cards/" + card.ID + "/grade", `{}`, http.StatusBadRequest},
		{"malformed body", "u1", "/api/cards/" + card.ID + "/grade", `{`, http.StatusBadRequest},
		{"unknown card", "u1", "/api/cards/nope/grade", `{"outcome":"good"}`, http.StatusNotFound},
		{"other user's card", "u2", "/api/cards/" + card.ID + "/grade", `{"outcome":"good"}`, http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, tc.user, http.MethodPost, tc.target, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestPreview(t *testing.T) {
	e := newTestEnv(t)
	card := e.addCard(t, "u1", "h1", "vars")

	rec := e.do(t, "u1", http.MethodGet, "/api/cards/"+card.ID+"/preview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var preview map[string]cardResponse
	decodeBody(t, rec, &preview)
	require.Len(t, preview, 4)
	assert.Equal(t, 1, preview["again"].Interval)
	assert.Equal(t, 0, preview["again"].Repetitions)
	assert.Equal(t, 1, preview["easy"].Repetitions)
}

func TestProgress(t *testing.T) {
	e := newTestEnv(t)
	card := e.addCard(t, "u1", "h1", "vars")
	e.addCard(t, "u1", "h2", "vars")

	rec := e.do(t, "u1", http.MethodPost, "/api/cards/"+card.ID+"/grade", `{"outcome":"easy"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, "u1", http.MethodGet, "/api/progress?course=go", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap review.Snapshot
	decodeBody(t, rec, &snap)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Reviewed)
	assert.Equal(t, 1, snap.DueForReview)
	assert.InDelta(t, 100.0, snap.RetentionRate, 1e-9)
	assert.Equal(t, int64(15), snap.Points)
	assert.Equal(t, 1, snap.Level)
}

func TestSourcesAndSync(t *testing.T) {
	e := newTestEnv(t)
	notes := filepath.Join(e.notes, "u1", "go")
	require.NoError(t, os.MkdirAll(notes, 0o755))
	note := "Course: go\nModule: basics\nLesson: vars\n\nQ: Zero value of int?\nA: 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(notes, "vars.md"), []byte(note), 0o644))

	rec := e.do(t, "u1", http.MethodPost, "/api/sources", `{"path":"go"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]int64
	decodeBody(t, rec, &created)

	// The same directory again, relative or absolute.
	rec = e.do(t, "u1", http.MethodPost, "/api/sources", `{"path":"go"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	body, err := json.Marshal(addSourceRequest{Path: notes})
	require.NoError(t, err)
	rec = e.do(t, "u1", http.MethodPost, "/api/sources", string(body))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = e.do(t, "u1", http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report importer.Report
	decodeBody(t, rec, &report)
	assert.Equal(t, 1, report.Inserted)

	rec = e.do(t, "u1", http.MethodGet, "/api/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sources []sourceResponse `json:"sources"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Sources, 1)
	assert.NotNil(t, list.Sources[0].LastScanned)

	// Other users see nothing and cannot delete it.
	rec = e.do(t, "u2", http.MethodDelete, "/api/sources/"+jsonInt(created["id"]), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, "u1", http.MethodDelete, "/api/sources/"+jsonInt(created["id"]), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	cards, err := e.db.ListFlashcards(context.Background(), domain.Scope{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestAddSourceOutsideNotesDir(t *testing.T) {
	e := newTestEnv(t)
	elsewhere := t.TempDir()
	note := "Course: go\nModule: basics\nLesson: vars\n\nQ: Secret?\nA: yes\n"
	require.NoError(t, os.WriteFile(filepath.Join(elsewhere, "secret.md"), []byte(note), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(e.notes, "u2"), 0o755))

	testCases := []struct {
		name string
		path string
	}{
		{"absolute path elsewhere", elsewhere},
		{"another user's notes", "../u2"},
		{"notes root", e.notes},
		{"system directory", "/etc"},
		{"local bare repo", "/srv/notes.git"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := json.Marshal(addSourceRequest{Path: tc.path})
			require.NoError(t, err)
			rec := e.do(t, "u1", http.MethodPost, "/api/sources", string(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	sources, err := e.db.ListSources(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, sources)

	rec := e.do(t, "u1", http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report importer.Report
	decodeBody(t, rec, &report)
	assert.Equal(t, 0, report.Inserted)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
