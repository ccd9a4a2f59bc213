package gitfs

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	pkgerrors "prism-backend/pkg/errors"
)

// DefaultGitTimeout bounds every git invocation so a network-backed remote
// cannot block a sync indefinitely.
const DefaultGitTimeout = 30 * time.Second

// GitRunner shells out to the external git binary for synchronization.
// Conflict resolution is delegated entirely to git's textual merge; this
// layer only classifies outcomes: genuine failures vs. the benign
// steady-state cases ("nothing to commit", "no upstream configured yet").
type GitRunner struct {
	repoPath string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewGitRunner creates a runner for the repository at repoPath.
func NewGitRunner(repoPath string, timeout time.Duration, logger *zap.Logger) *GitRunner {
	if timeout <= 0 {
		timeout = DefaultGitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitRunner{repoPath: repoPath, timeout: timeout, logger: logger}
}

// run executes one git subcommand with a bounded timeout and returns the
// combined stdout. Failures carry the subcommand and stderr so an operator
// can diagnose them; automatic recovery is not attempted here.
func (g *GitRunner) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		g.logger.Debug("git command failed",
			zap.Strings("args", args),
			zap.String("stderr", stderr.String()),
			zap.Error(err),
		)
		return stdout.String() + stderr.String(), pkgerrors.NewVCSConflict(
			"git "+strings.Join(args, " ")+" failed: "+strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// IsRepo reports whether repoPath is inside a git work tree.
func (g *GitRunner) IsRepo(ctx context.Context) bool {
	_, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// Init initializes a repository when none exists yet.
func (g *GitRunner) Init(ctx context.Context) error {
	if g.IsRepo(ctx) {
		return nil
	}
	_, err := g.run(ctx, "init")
	return err
}

// PullRebase runs `git pull --rebase`. The "no upstream configured yet"
// case is benign (the first push will create it) and reported via the bool
// rather than an error.
func (g *GitRunner) PullRebase(ctx context.Context) (noUpstream bool, err error) {
	out, err := g.run(ctx, "pull", "--rebase")
	if err != nil {
		if isNoUpstream(out) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// AddAll stages every change in the work tree.
func (g *GitRunner) AddAll(ctx context.Context) error {
	_, err := g.run(ctx, "add", "-A")
	return err
}

// Commit records staged changes. "nothing to commit" is expected steady
// state, not a failure; committed is false in that case.
func (g *GitRunner) Commit(ctx context.Context, message string) (committed bool, err error) {
	out, err := g.run(ctx, "commit", "-m", message)
	if err != nil {
		if isNothingToCommit(out) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Push publishes committed changes. When the branch has no upstream yet the
// push is retried once with `-u origin HEAD` to create it.
func (g *GitRunner) Push(ctx context.Context) error {
	out, err := g.run(ctx, "push")
	if err == nil {
		return nil
	}
	if isNoUpstream(out) {
		_, err = g.run(ctx, "push", "-u", "origin", "HEAD")
	}
	return err
}

// HasChanges reports whether the work tree has uncommitted changes.
func (g *GitRunner) HasChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Config returns a git config value, or empty when unset.
func (g *GitRunner) Config(ctx context.Context, key string) string {
	out, err := g.run(ctx, "config", key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// ValidateSetup runs a health check and returns the list of issues found.
func (g *GitRunner) ValidateSetup(ctx context.Context) []string {
	if !g.IsRepo(ctx) {
		return []string{"not a valid git repository"}
	}

	var issues []string
	if g.Config(ctx, "user.name") == "" {
		issues = append(issues, "git user.name not configured")
	}
	if g.Config(ctx, "user.email") == "" {
		issues = append(issues, "git user.email not configured")
	}
	if _, err := g.run(ctx, "remote", "get-url", "origin"); err != nil {
		issues = append(issues, `no remote "origin" configured`)
	}
	return issues
}

// isNothingToCommit classifies commit output for the empty-stage case.
func isNothingToCommit(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "nothing to commit") ||
		strings.Contains(lower, "nothing added to commit") ||
		strings.Contains(lower, "no changes added to commit")
}

// isNoUpstream classifies pull/push output for a branch with no upstream
// configured yet.
func isNoUpstream(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "no tracking information") ||
		strings.Contains(lower, "no upstream branch") ||
		strings.Contains(lower, "--set-upstream")
}
