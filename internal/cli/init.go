// init.go implements the "construct init" command.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/construct-dev/construct/internal/config"
	"github.com/construct-dev/construct/prompts"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize construct in the current project",
	Long: `Initialize the .construct/ directory with configuration, a starter
template, and the default prompt fragments templates reference.`,
	RunE: runInit,
}

// defaultTemplate is the starter template written by init. It declares
// one service so a fresh project has something runnable to provision.
const defaultTemplate = `id: default
name: Default workspace
services:
  - name: echo
    id: echo
    command: sleep
    args: ["3600"]
    ports:
      - name: http
        env: HTTP_PORT
prompt_sources:
  - path: .construct/prompts/intro.md
    order: 1
  - path: .construct/prompts/*.md
`

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	for _, subdir := range []string{
		".construct",
		".construct/cells",
		".construct/templates",
		".construct/prompts",
	} {
		if mkErr := os.MkdirAll(filepath.Join(dir, subdir), 0755); mkErr != nil {
			return fmt.Errorf("creating directory %s: %w", subdir, mkErr)
		}
	}

	if err := ensureGitignore(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to set up .gitignore: %v\n", err)
	}

	// Write the config only if the project has none yet, so re-running
	// init never clobbers local edits.
	configPath := filepath.Join(dir, ".construct", "config.yaml")
	if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
		cfg := config.DefaultConfig()
		cfg.Project = filepath.Base(dir)
		if writeErr := config.WriteConfig(dir, cfg); writeErr != nil {
			return fmt.Errorf("writing config: %w", writeErr)
		}
	}

	defaults := map[string]string{
		".construct/prompts/intro.md":       prompts.WorkspaceIntro,
		".construct/prompts/conventions.md": prompts.WorkspaceConventions,
		".construct/templates/default.yaml": defaultTemplate,
	}
	for rel, content := range defaults {
		path := filepath.Join(dir, rel)
		if _, statErr := os.Stat(path); statErr == nil {
			continue
		}
		if writeErr := os.WriteFile(path, []byte(content), 0644); writeErr != nil {
			return fmt.Errorf("writing %s: %w", rel, writeErr)
		}
	}

	fmt.Println("Construct initialized")
	fmt.Println("  Configuration: .construct/config.yaml")
	fmt.Println("  Templates:     .construct/templates/")
	fmt.Println("  Prompts:       .construct/prompts/")
	fmt.Println()
	fmt.Println("Provision your first workspace: construct up default")

	return nil
}

// ensureGitignore creates or appends to .gitignore with the runtime
// entries that should never be committed. Existing entries are kept.
func ensureGitignore(dir string) error {
	gitignorePath := filepath.Join(dir, ".gitignore")

	requiredEntries := []string{
		".construct/log.jsonl",
		".construct/construct.db",
		".construct/cells/",
		".construct/report.md",
	}

	existing := ""
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}

	var missing []string
	for _, entry := range requiredEntries {
		if !strings.Contains(existing, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var toAppend strings.Builder
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		toAppend.WriteString("\n")
	}
	if existing != "" {
		toAppend.WriteString("\n# Added by construct init\n")
	}
	for _, entry := range missing {
		toAppend.WriteString(entry + "\n")
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening .gitignore: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(toAppend.String()); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	return nil
}
