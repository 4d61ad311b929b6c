package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardwise/internal/domain"
	"github.com/conorfennell/cardwise/internal/storage"
)

const channelsNote = `Course: go-101
Module: concurrency
Lesson: channels

Q: What does close(ch) do?
A: Signals that no more values will be sent.

Q: What does a receive on a closed channel return?
A: The zero value, immediately.
`

const secondCard = "\nQ: What does a receive on a closed channel return?\nA: The zero value, immediately.\n"

// setup returns an importer whose notes root holds u1/go/channels.md.
func setup(t *testing.T) (*Importer, *storage.DB, string) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	writeNote(t, filepath.Join(root, "u1", "go", "channels.md"), channelsNote)
	writeNote(t, filepath.Join(root, "u1", "todo.txt"), "Q: not a note\nA: skipped")
	return New(db, root, t.TempDir(), ""), db, root
}

func writeNote(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func findByQuestion(t *testing.T, cards []domain.Flashcard, q string) domain.Flashcard {
	t.Helper()
	for _, c := range cards {
		if c.Question == q {
			return c
		}
	}
	require.FailNow(t, "card not found", q)
	return domain.Flashcard{}
}

func TestRunImportsNotes(t *testing.T) {
	ctx := context.Background()
	im, db, _ := setup(t)

	_, err := im.AddSource(ctx, "u1", ".")
	require.NoError(t, err)

	report, err := im.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Report{Sources: 1, Parsed: 2, Inserted: 2}, report)

	cards, err := db.ListFlashcards(ctx, domain.Scope{UserID: "u1", CourseID: "go-101", LessonID: "channels"})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "go/channels.md", cards[0].NoteID)
	assert.Equal(t, "concurrency", cards[0].ModuleID)

	// A second run changes nothing.
	report, err = im.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Report{Sources: 1, Parsed: 2}, report)
}

func TestRunKeepsStateAndRemovesOrphans(t *testing.T) {
	ctx := context.Background()
	im, db, root := setup(t)
	_, err := im.AddSource(ctx, "u1", ".")
	require.NoError(t, err)
	_, err = im.Run(ctx, "u1")
	require.NoError(t, err)

	cards, err := db.ListFlashcards(ctx, domain.Scope{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	kept := findByQuestion(t, cards, "What does close(ch) do?")
	kept.EaseFactor, kept.Interval, kept.Repetitions, kept.LastOutcome = 2.6, 6, 2, 4
	_, err = db.UpdateFlashcardState(ctx, kept)
	require.NoError(t, err)

	trimmed := channelsNote[:len(channelsNote)-len(secondCard)]
	writeNote(t, filepath.Join(root, "u1", "go", "channels.md"), trimmed)

	report, err := im.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	cards, err = db.ListFlashcards(ctx, domain.Scope{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, kept.ID, cards[0].ID)
	assert.Equal(t, 6, cards[0].Interval)
}

func TestRunMovesCardsSharedBetweenSources(t *testing.T) {
	ctx := context.Background()
	im, db, root := setup(t)
	writeNote(t, filepath.Join(root, "u1", "a", "channels.md"), channelsNote)
	writeNote(t, filepath.Join(root, "u1", "b", "channels.md"), channelsNote)
	srcA, err := im.AddSource(ctx, "u1", "a")
	require.NoError(t, err)
	srcB, err := im.AddSource(ctx, "u1", "b")
	require.NoError(t, err)

	report, err := im.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Inserted)

	cards, err := db.ListFlashcards(ctx, domain.Scope{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	graded := findByQuestion(t, cards, "What does close(ch) do?")
	require.Equal(t, srcA, graded.SourceID)
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	next := now.Add(6 * 24 * time.Hour)
	graded.EaseFactor, graded.Interval, graded.Repetitions, graded.LastOutcome = 2.5, 6, 2, 3
	graded.LastReviewed, graded.NextReview = &now, &next
	_, err = db.UpdateFlashcardState(ctx, graded)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "u1", "a", "channels.md")))

	report, err = im.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Report{Sources: 2, Parsed: 2, Moved: 2}, report)

	cards, err = db.ListFlashcards(ctx, domain.Scope{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	after := findByQuestion(t, cards, "What does close(ch) do?")
	assert.Equal(t, graded.ID, after.ID)
	assert.Equal(t, srcB, after.SourceID)
	assert.Equal(t, 2, after.Repetitions)
	assert.True(t, after.Reviewed())

	// Once no source has the note, the cards go.
	require.NoError(t, os.Remove(filepath.Join(root, "u1", "b", "channels.md")))
	require.NoError(t, os.Remove(filepath.Join(root, "u1", "go", "channels.md")))
	report, err = im.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deleted)
}

func TestRunKeepsOrphansWhenASourceFails(t *testing.T) {
	ctx := context.Background()
	im, db, root := setup(t)
	_, err := im.AddSource(ctx, "u1", "go")
	require.NoError(t, err)
	_, err = im.Run(ctx, "u1")
	require.NoError(t, err)

	_, err = im.AddSource(ctx, "u1", "missing")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "u1", "go", "channels.md")))

	report, err := im.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, report.Deleted)

	cards, err := db.ListFlashcards(ctx, domain.Scope{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestRunIsolatesUsers(t *testing.T) {
	ctx := context.Background()
	im, db, root := setup(t)
	writeNote(t, filepath.Join(root, "u2", "channels.md"), channelsNote)
	_, err := im.AddSource(ctx, "u1", ".")
	require.NoError(t, err)
	_, err = im.AddSource(ctx, "u2", ".")
	require.NoError(t, err)

	report, err := im.Run(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sources)
	assert.Equal(t, 4, report.Inserted)

	for _, u := range []string{"u1", "u2"} {
		cards, err := db.ListFlashcards(ctx, domain.Scope{UserID: u})
		require.NoError(t, err)
		assert.Len(t, cards, 2, u)
	}
}

func TestRunCountsBrokenSources(t *testing.T) {
	ctx := context.Background()
	im, db, _ := setup(t)
	_, err := im.AddSource(ctx, "u1", "missing")
	require.NoError(t, err)
	_, err = db.InsertSource(ctx, "u1", "git@nohost", storage.SourceGit)
	require.NoError(t, err)
	_, err = im.AddSource(ctx, "u1", "go")
	require.NoError(t, err)

	report, err := im.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Sources)
	assert.Equal(t, 2, report.Errors)
	assert.Equal(t, 2, report.Inserted)
}

func TestRunRejectsSourcesOutsideNotesDir(t *testing.T) {
	ctx := context.Background()
	im, db, _ := setup(t)
	elsewhere := t.TempDir()
	writeNote(t, filepath.Join(elsewhere, "secret.md"), channelsNote)
	require.NoError(t, db.EnsureUser(ctx, "u1"))
	_, err := db.InsertSource(ctx, "u1", elsewhere, storage.SourceLocal)
	require.NoError(t, err)

	report, err := im.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, report.Inserted)
}

func TestAddSourceDetectsGit(t *testing.T) {
	ctx := context.Background()
	im, db, _ := setup(t)
	_, err := im.AddSource(ctx, "u1", "https://github.com/acme/notes.git")
	require.NoError(t, err)
	sources, err := db.ListSources(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, storage.SourceGit, sources[0].Type)
}

func TestAddSourceRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	im, _, root := setup(t)
	_, err := im.AddSource(ctx, "u1", "go")
	require.NoError(t, err)

	_, err = im.AddSource(ctx, "u1", "go")
	assert.ErrorIs(t, err, storage.ErrDuplicate)
	_, err = im.AddSource(ctx, "u1", filepath.Join(root, "u1", "go"))
	assert.ErrorIs(t, err, storage.ErrDuplicate, "absolute and relative forms are the same source")
}

func TestAddSourceErrors(t *testing.T) {
	ctx := context.Background()
	im, _, _ := setup(t)
	_, err := im.AddSource(ctx, "u1", "../u2")
	assert.ErrorIs(t, err, ErrOutsideNotesDir)
	_, err = im.AddSource(ctx, "u1", "/srv/notes.git")
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestNormalizePath(t *testing.T) {
	im, _, root := setup(t)
	userRoot := filepath.Join(root, "u1")

	testCases := []struct {
		name string
		user string
		path string
		want string
		err  bool
	}{
		{"relative", "u1", "go", filepath.Join(userRoot, "go"), false},
		{"user root", "u1", ".", userRoot, false},
		{"absolute inside", "u1", filepath.Join(userRoot, "go"), filepath.Join(userRoot, "go"), false},
		{"parent escape", "u1", "../u2", "", true},
		{"absolute outside", "u1", filepath.Join(root, "u2"), "", true},
		{"notes root itself", "u1", root, "", true},
		{"system path", "u1", "/etc", "", true},
		{"user id with separator", "u1/../u2", ".", "", true},
		{"empty user", "", ".", "", true},
		{"local bare repo", "u1", "/srv/notes.git", "", true},
		{"git url kept", "u1", "git@github.com:acme/notes.git", "git@github.com:acme/notes.git", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := im.NormalizePath(tc.user, tc.path)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
