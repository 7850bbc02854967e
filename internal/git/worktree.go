package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Worktrees provisions and reclaims isolated working copies of one
// repository. Every git invocation is bounded by the shared Pool.
type Worktrees struct {
	repoDir string
	pool    *Pool
}

// NewWorktrees creates a Worktrees manager for the repository at repoDir.
func NewWorktrees(repoDir string, pool *Pool) *Worktrees {
	return &Worktrees{repoDir: repoDir, pool: pool}
}

// run executes git with the given args in dir, returning trimmed stdout.
func (w *Worktrees) run(ctx context.Context, dir string, args ...string) (string, error) {
	var out string
	err := w.pool.Run(ctx, func() error {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err,
				strings.TrimSpace(stderr.String()))
		}
		out = strings.TrimSpace(stdout.String())
		return nil
	})
	return out, err
}

// Add creates a worktree at path on a new branch.
func (w *Worktrees) Add(ctx context.Context, path, branch string) error {
	_, err := w.run(ctx, w.repoDir, "worktree", "add", "-b", branch, path)
	return err
}

// Remove reclaims the worktree at path. Uncommitted changes are discarded.
func (w *Worktrees) Remove(ctx context.Context, path string) error {
	_, err := w.run(ctx, w.repoDir, "worktree", "remove", "--force", path)
	return err
}

// Merge merges branch into the repository's current branch with a merge commit.
func (w *Worktrees) Merge(ctx context.Context, branch string) error {
	_, err := w.run(ctx, w.repoDir, "merge", "--no-ff", "--no-edit", branch)
	return err
}

// AbortMerge cancels an in-progress merge after a conflict.
func (w *Worktrees) AbortMerge(ctx context.Context) error {
	_, err := w.run(ctx, w.repoDir, "merge", "--abort")
	return err
}

// DeleteBranch removes a fully merged branch.
func (w *Worktrees) DeleteBranch(ctx context.Context, branch string) error {
	_, err := w.run(ctx, w.repoDir, "branch", "-d", branch)
	return err
}
