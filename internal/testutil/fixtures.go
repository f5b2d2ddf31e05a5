// Package testutil provides test helper utilities for construct tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// TempProject creates a temporary directory with the given files and returns its path.
// Files is a map of relative path -> content. Directories are created as needed.
// The directory is automatically cleaned up when the test finishes.
func TempProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	for relPath, content := range files {
		absPath := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			t.Fatalf("creating directory for %s: %v", relPath, err)
		}
		if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", relPath, err)
		}
	}

	return dir
}

// TempGitRepo creates a temporary git repository with one commit and
// returns its path. Skips the test if git is not installed.
func TempGitRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	if files == nil {
		files = map[string]string{"README.md": "test repo\n"}
	}
	dir := TempProject(t, files)

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	run("init", "--initial-branch=main")
	run("add", "-A")
	run("commit", "-m", "initial commit")

	return dir
}

// SimpleTemplate returns YAML for a minimal construct template with one
// process service and one literal prompt source.
func SimpleTemplate() string {
	return `id: tmpl-basic
name: basic
services:
  - name: web
    command: sleep
    args: ["60"]
    ports:
      - name: http
        preferred: 3000
        env: HTTP_PORT
prompt_sources:
  - path: context.md
env:
  NODE_ENV: development
`
}
