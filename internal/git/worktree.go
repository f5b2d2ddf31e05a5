// Package git wraps the Git operations construct uses to give each
// cell its own version-controlled workspace copy.
package git

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// branchPrefix namespaces construct worktree branches.
const branchPrefix = "construct/cell"

// WorkspaceCopy identifies the worktree created for a construct.
type WorkspaceCopy struct {
	BranchName   string
	BaseRevision string
}

// ensureGit verifies the git binary is available.
func ensureGit() error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git not found in PATH: %w", err)
	}
	return nil
}

// run executes a git command in dir and returns combined output.
func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CreateWorkspaceCopy creates a git worktree at wtPath with a dedicated
// branch based on HEAD, and returns the branch name and base revision.
// It is idempotent: an existing worktree directory that is already a
// valid checkout is reused, so retried provisioning runs do not create
// a duplicate copy.
func CreateWorkspaceCopy(projectRoot, wtPath, cellID string) (*WorkspaceCopy, error) {
	if err := ensureGit(); err != nil {
		return nil, err
	}

	branchName := fmt.Sprintf("%s/%s", branchPrefix, cellID)

	if existing, ok := existingWorkspaceCopy(wtPath); ok {
		return existing, nil
	}

	if err := os.MkdirAll(filepath.Dir(wtPath), 0755); err != nil {
		return nil, fmt.Errorf("creating worktree directory: %w", err)
	}

	baseRevision, err := run(projectRoot, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolving base revision: %w", err)
	}

	if _, err := run(projectRoot, "worktree", "add", "-b", branchName, wtPath, "HEAD"); err != nil {
		return nil, fmt.Errorf("git worktree add: %w", err)
	}

	return &WorkspaceCopy{BranchName: branchName, BaseRevision: baseRevision}, nil
}

// existingWorkspaceCopy inspects wtPath and, if it is already a valid
// git checkout, reconstructs the WorkspaceCopy from it.
func existingWorkspaceCopy(wtPath string) (*WorkspaceCopy, bool) {
	if _, err := os.Stat(filepath.Join(wtPath, ".git")); err != nil {
		return nil, false
	}

	branch, err := run(wtPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, false
	}
	base, err := run(wtPath, "rev-parse", "HEAD")
	if err != nil {
		return nil, false
	}
	return &WorkspaceCopy{BranchName: branch, BaseRevision: base}, true
}

// RemoveWorkspaceCopy removes a construct's worktree and its branch.
// The branch delete is best-effort.
func RemoveWorkspaceCopy(projectRoot, wtPath, cellID string) error {
	if err := ensureGit(); err != nil {
		return err
	}

	if _, err := run(projectRoot, "worktree", "remove", "--force", wtPath); err != nil {
		return fmt.Errorf("git worktree remove: %w", err)
	}

	branchName := fmt.Sprintf("%s/%s", branchPrefix, cellID)
	cmd := exec.Command("git", "branch", "-D", branchName)
	cmd.Dir = projectRoot
	_ = cmd.Run() // Ignore error if branch doesn't exist.

	return nil
}

// ListWorkspaceCopies returns the paths of all construct worktrees
// under the given cells directory.
func ListWorkspaceCopies(projectRoot, cellsDir string) ([]string, error) {
	if err := ensureGit(); err != nil {
		return nil, err
	}

	out, err := run(projectRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}

	var worktrees []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			path := strings.TrimPrefix(line, "worktree ")
			if strings.HasPrefix(path, cellsDir+string(os.PathSeparator)) {
				worktrees = append(worktrees, path)
			}
		}
	}
	return worktrees, nil
}
