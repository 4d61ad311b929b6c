package gitsource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rs/zerolog/log"
)

// IsGitURL reports whether path names a remote repository rather than a
// local directory.
func IsGitURL(path string) bool {
	return strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") ||
		strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://")
}

// LocalPath maps a repository URL to its checkout directory under baseDir.
func LocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		// scp-like syntax: git@host:owner/repo.git
		if user, rest, ok := strings.Cut(repoURL, "@"); ok && user != "" {
			host, repoPath, ok := strings.Cut(rest, ":")
			if ok && host != "" && repoPath != "" {
				return safeJoin(baseDir, host, strings.TrimSuffix(repoPath, ".git"))
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}
	return safeJoin(baseDir, parsedURL.Host, strings.TrimSuffix(parsedURL.Path, ".git"))
}

func safeJoin(baseDir string, parts ...string) (string, error) {
	p := filepath.Join(append([]string{baseDir}, parts...)...)
	rel, err := filepath.Rel(baseDir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("git URL escapes repository directory: %s", filepath.Join(parts...))
	}
	return p, nil
}

// Sync clones a git repository if it doesn't exist at the given path,
// or pulls the latest changes if it does. A non-empty token is sent as HTTP
// basic auth password.
func Sync(ctx context.Context, repoURL, localPath, token string) error {
	var auth transport.AuthMethod
	if token != "" {
		auth = &githttp.BasicAuth{Username: "token", Password: token}
	}
	logger := log.Ctx(ctx).With().Str("url", repoURL).Str("path", localPath).Logger()

	_, err := os.Stat(localPath)
	switch {
	case os.IsNotExist(err):
		logger.Info().Msg("cloning-repository")
		_, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{
			URL:  repoURL,
			Auth: auth,
		})
		if err != nil {
			return fmt.Errorf("failed to clone repo %s: %w", repoURL, err)
		}
		logger.Info().Msg("clone-complete")
	case err == nil:
		logger.Info().Msg("pulling-repository")
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}
		err = worktree.PullContext(ctx, &git.PullOptions{
			RemoteName: "origin",
			Auth:       auth,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}
		logger.Info().Msg("pull-complete")
	default:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}
	return nil
}
