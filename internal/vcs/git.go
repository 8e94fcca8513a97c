// Package vcs drives the git CLI for revision lookup and manifest commits.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imyashkale/deployer/internal/shell"
)

// ErrNothingToCommit means the working tree already matched the change
var ErrNothingToCommit = errors.New("nothing to commit")

const gitTimeout = 2 * time.Minute

// CommitRequest describes a commit of a set of files followed by a push
type CommitRequest struct {
	Dir     string
	Paths   []string
	Message string
	Remote  string
	Branch  string
}

// Git runs git commands
type Git struct {
	runner      shell.Runner
	dir         string
	authorName  string
	authorEmail string
}

// NewGit creates a git client for the repository in dir
func NewGit(runner shell.Runner, dir, authorName, authorEmail string) *Git {
	return &Git{
		runner:      runner,
		dir:         dir,
		authorName:  authorName,
		authorEmail: authorEmail,
	}
}

// ShortRevision returns the abbreviated hash of HEAD
func (g *Git) ShortRevision(ctx context.Context) (string, error) {
	out, err := g.exec(ctx, g.dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	rev := strings.TrimSpace(out)
	if rev == "" {
		return "", errors.New("git rev-parse returned an empty revision")
	}
	return rev, nil
}

// CommitAndPush stages paths, commits them and pushes the current branch.
// ErrNothingToCommit is returned when the staged tree has no changes.
func (g *Git) CommitAndPush(ctx context.Context, req CommitRequest) error {
	dir := req.Dir
	if dir == "" {
		dir = g.dir
	}

	for _, p := range req.Paths {
		if _, err := g.exec(ctx, dir, "add", "--", p); err != nil {
			return fmt.Errorf("git add %s: %w", p, err)
		}
	}

	args := []string{
		"-c", "user.name=" + g.authorName,
		"-c", "user.email=" + g.authorEmail,
		"commit", "--no-verify", "-m", req.Message, "--",
	}
	args = append(args, req.Paths...)
	if _, err := g.exec(ctx, dir, args...); err != nil {
		if isNothingToCommit(err) {
			return ErrNothingToCommit
		}
		return fmt.Errorf("git commit: %w", err)
	}

	pushArgs := []string{"push"}
	if req.Remote != "" {
		pushArgs = append(pushArgs, req.Remote)
		if req.Branch != "" {
			pushArgs = append(pushArgs, "HEAD:"+req.Branch)
		}
	}
	if _, err := g.exec(ctx, dir, pushArgs...); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

func (g *Git) exec(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := g.runner.Run(ctx, shell.Command{
		Name:    "git",
		Args:    args,
		Dir:     dir,
		Timeout: gitTimeout,
	})
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// git prints this on stdout with exit status 1; older versions word it
// slightly differently, so match loosely.
func isNothingToCommit(err error) bool {
	out := strings.ToLower(shell.OutputOf(err))
	return strings.Contains(out, "nothing to commit") ||
		strings.Contains(out, "nothing added to commit") ||
		strings.Contains(out, "no changes added to commit")
}
