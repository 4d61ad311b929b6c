// Package importer turns markdown notes from local directories and git
// repositories into flashcards, keeping stored cards in step with the notes.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/conorfennell/cardwise/internal/cardhash"
	"github.com/conorfennell/cardwise/internal/domain"
	"github.com/conorfennell/cardwise/internal/gitsource"
	"github.com/conorfennell/cardwise/internal/parser"
	"github.com/conorfennell/cardwise/internal/storage"
)

var (
	// ErrOutsideNotesDir is returned for a local source path that does not
	// lie inside the user's notes directory.
	ErrOutsideNotesDir = errors.New("importer: path outside the user's notes directory")
	// ErrInvalidSource is returned for a git source that is not a remote URL.
	ErrInvalidSource = errors.New("importer: invalid source")
)

// Store is the persistence the importer needs. *storage.DB satisfies it.
type Store interface {
	EnsureUser(ctx context.Context, userID string) error
	InsertSource(ctx context.Context, userID, path, sourceType string) (int64, error)
	ListSources(ctx context.Context, userID string) ([]storage.Source, error)
	UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error
	FindFlashcardByHash(ctx context.Context, userID, hash string) (domain.Flashcard, error)
	InsertFlashcard(ctx context.Context, f domain.Flashcard) (domain.Flashcard, error)
	ListFlashcardsBySource(ctx context.Context, sourceID int64) ([]domain.Flashcard, error)
	MoveFlashcard(ctx context.Context, userID, id string, sourceID int64, noteID string) error
	DeleteFlashcard(ctx context.Context, userID, id string) error
}

// Importer reconciles note sources with stored flashcards. Local sources of a
// user must live under notesDir/<user id>; git sources are checked out under
// reposDir.
type Importer struct {
	db       Store
	notesDir string
	reposDir string
	gitToken string
}

func New(db Store, notesDir, reposDir, gitToken string) *Importer {
	return &Importer{db: db, notesDir: notesDir, reposDir: reposDir, gitToken: gitToken}
}

// Report counts what a sync did.
type Report struct {
	Sources  int `json:"sources"`
	Parsed   int `json:"parsed"`
	Inserted int `json:"inserted"`
	Moved    int `json:"moved"`
	Deleted  int `json:"deleted"`
	Errors   int `json:"errors"`
}

func (r *Report) add(o Report) {
	r.Sources += o.Sources
	r.Parsed += o.Parsed
	r.Inserted += o.Inserted
	r.Moved += o.Moved
	r.Deleted += o.Deleted
	r.Errors += o.Errors
}

// UserNotesDir is the directory the user's local sources must live in.
func (im *Importer) UserNotesDir(userID string) (string, error) {
	if userID == "" || userID == "." || userID == ".." || userID != filepath.Base(userID) {
		return "", fmt.Errorf("%w: invalid user id %q", ErrOutsideNotesDir, userID)
	}
	root, err := filepath.Abs(im.notesDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve notes directory %s: %w", im.notesDir, err)
	}
	return filepath.Join(root, userID), nil
}

// NormalizePath returns the stored form and type of a source path. Git
// sources must be remote URLs and are kept as given. Local paths are resolved
// against the user's notes directory and must not leave it.
func (im *Importer) NormalizePath(userID, path string) (string, string, error) {
	if gitsource.IsGitURL(path) {
		if _, err := gitsource.LocalPath(im.reposDir, path); err != nil {
			return "", "", fmt.Errorf("%w: %w", ErrInvalidSource, err)
		}
		return path, storage.SourceGit, nil
	}
	root, err := im.UserNotesDir(userID)
	if err != nil {
		return "", "", err
	}
	p := filepath.Clean(path)
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideNotesDir, path)
	}
	return p, storage.SourceLocal, nil
}

// AddSource registers a local directory or git URL for the user. Registering
// the same source twice fails with storage.ErrDuplicate.
func (im *Importer) AddSource(ctx context.Context, userID, path string) (int64, error) {
	normalized, sourceType, err := im.NormalizePath(userID, path)
	if err != nil {
		return 0, err
	}
	if err := im.db.EnsureUser(ctx, userID); err != nil {
		return 0, err
	}
	return im.db.InsertSource(ctx, userID, normalized, sourceType)
}

// Run syncs every source of userID, or of all users when userID is empty.
// A failing source is logged and counted; the others still sync.
func (im *Importer) Run(ctx context.Context, userID string) (Report, error) {
	logger := log.Ctx(ctx)
	logger.Info().Str("user", userID).Msg("sync-starting")

	sources, err := im.db.ListSources(ctx, userID)
	if err != nil {
		return Report{}, err
	}
	var users []string
	byUser := make(map[string][]storage.Source)
	for _, s := range sources {
		if _, ok := byUser[s.UserID]; !ok {
			users = append(users, s.UserID)
		}
		byUser[s.UserID] = append(byUser[s.UserID], s)
	}

	var total Report
	for _, u := range users {
		r, err := im.syncUser(ctx, u, byUser[u])
		total.add(r)
		if err != nil {
			return total, err
		}
	}
	logger.Info().Interface("report", total).Msg("sync-complete")
	return total, nil
}

// scan is the cards one source currently produces.
type scan struct {
	source storage.Source
	cards  []domain.Flashcard
	hashes map[string]bool
	errors int
}

// syncUser reconciles all sources of one user together. A card belongs to a
// single source, but the same text may appear in several; a card dropped by
// its source moves to another source that still has it instead of being
// deleted. Deletions wait for a run in which every source scanned cleanly.
func (im *Importer) syncUser(ctx context.Context, userID string, sources []storage.Source) (Report, error) {
	logger := log.Ctx(ctx).With().Str("user", userID).Logger()
	var report Report
	var scans []*scan
	complete := true

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Sources++
		sc, err := im.scanSource(ctx, source)
		if err != nil {
			logger.Error().Err(err).Int64("source", source.ID).Str("path", source.Path).Msg("sync-source-failed")
			report.Errors++
			complete = false
			continue
		}
		if sc.errors > 0 {
			report.Errors += sc.errors
			complete = false
		}
		scans = append(scans, sc)
	}

	// First source listing a hash provides it.
	providers := make(map[string]domain.Flashcard)
	for _, sc := range scans {
		for _, card := range sc.cards {
			report.Parsed++
			if _, ok := providers[card.Hash]; !ok {
				providers[card.Hash] = card
			}

			_, err := im.db.FindFlashcardByHash(ctx, userID, card.Hash)
			if err == nil {
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				logger.Warn().Err(err).Str("hash", card.Hash).Msg("card-lookup-failed")
				report.Errors++
				continue
			}
			if _, err := im.db.InsertFlashcard(ctx, card); err != nil {
				logger.Warn().Err(err).Str("hash", card.Hash).Msg("card-insert-failed")
				report.Errors++
				continue
			}
			logger.Debug().Str("hash", card.Hash).Str("note", card.NoteID).Msg("card-inserted")
			report.Inserted++
		}
	}

	for _, sc := range scans {
		stored, err := im.db.ListFlashcardsBySource(ctx, sc.source.ID)
		if err != nil {
			logger.Warn().Err(err).Int64("source", sc.source.ID).Msg("source-cards-list-failed")
			report.Errors++
			continue
		}
		for _, card := range stored {
			if sc.hashes[card.Hash] {
				continue
			}
			if p, ok := providers[card.Hash]; ok {
				if err := im.db.MoveFlashcard(ctx, userID, card.ID, p.SourceID, p.NoteID); err != nil {
					logger.Warn().Err(err).Str("hash", card.Hash).Msg("card-move-failed")
					report.Errors++
					continue
				}
				logger.Info().Str("hash", card.Hash).Int64("from", sc.source.ID).Int64("to", p.SourceID).Msg("card-moved")
				report.Moved++
				continue
			}
			if !complete {
				logger.Info().Str("hash", card.Hash).Msg("orphan-kept-until-clean-sync")
				continue
			}
			if err := im.db.DeleteFlashcard(ctx, userID, card.ID); err != nil {
				logger.Warn().Err(err).Str("hash", card.Hash).Msg("orphan-delete-failed")
				report.Errors++
				continue
			}
			logger.Info().Str("hash", card.Hash).Msg("orphaned-card-deleted")
			report.Deleted++
		}

		if err := im.db.UpdateSourceLastScanned(ctx, sc.source.ID, time.Now()); err != nil {
			logger.Warn().Err(err).Int64("source", sc.source.ID).Msg("last-scanned-update-failed")
		}
	}
	return report, nil
}

func (im *Importer) scanSource(ctx context.Context, source storage.Source) (*scan, error) {
	log.Ctx(ctx).Info().Int64("id", source.ID).Str("type", source.Type).Str("path", source.Path).Msg("syncing-source")

	dir := source.Path
	if source.Type == storage.SourceGit {
		localRepoPath, err := gitsource.LocalPath(im.reposDir, source.Path)
		if err != nil {
			return nil, err
		}
		if err := gitsource.Sync(ctx, source.Path, localRepoPath, im.gitToken); err != nil {
			return nil, err
		}
		dir = localRepoPath
	} else if _, _, err := im.NormalizePath(source.UserID, source.Path); err != nil {
		// Registered before the notes directory moved, or written directly.
		return nil, err
	}
	return im.walk(ctx, source, dir)
}

func (im *Importer) walk(ctx context.Context, source storage.Source, dir string) (*scan, error) {
	logger := log.Ctx(ctx)
	sc := &scan{source: source, hashes: make(map[string]bool)}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		note, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			logger.Warn().Err(parseErr).Str("file", path).Msg("note-parse-failed")
			sc.errors++
			return nil
		}
		noteID, _ := filepath.Rel(dir, path)
		noteID = filepath.ToSlash(noteID)
		lessonKey := strings.Join([]string{note.CourseID, note.ModuleID, note.LessonID}, "/")

		for _, card := range note.Cards {
			hash := cardhash.Hash(lessonKey, card)
			sc.hashes[hash] = true
			sc.cards = append(sc.cards, domain.Flashcard{
				UserID:   source.UserID,
				CourseID: note.CourseID,
				ModuleID: note.ModuleID,
				LessonID: note.LessonID,
				NoteID:   noteID,
				SourceID: source.ID,
				Hash:     hash,
				Question: card.Question,
				Answer:   card.Answer,
				Context:  card.Context,
			})
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("error walking directory %s: %w", dir, walkErr)
	}
	return sc, nil
}
