// Package cleanup implements pruning of archived constructs and the
// cell directories they leave behind.
package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/construct-dev/construct/internal/config"
	"github.com/construct-dev/construct/internal/store"
)

// PruneArchived removes the cell directories of constructs that have
// been archived for longer than maxAgeDays. If dryRun is true nothing
// is deleted; the function only reports what would go. Returns the
// pruned construct ids.
func PruneArchived(st *store.Store, projectRoot string, maxAgeDays int, dryRun bool) ([]string, error) {
	constructs, err := st.ListConstructs()
	if err != nil {
		return nil, fmt.Errorf("listing constructs: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	var pruned []string

	for _, c := range constructs {
		if c.Status != store.StatusArchived {
			continue
		}
		if c.UpdatedAt.After(cutoff) {
			continue
		}

		if !dryRun {
			cellDir := config.CellDir(projectRoot, c.ID)
			if rmErr := os.RemoveAll(cellDir); rmErr != nil {
				return pruned, fmt.Errorf("removing cell directory for %s: %w", c.ID, rmErr)
			}
		}
		pruned = append(pruned, c.ID)
	}

	return pruned, nil
}

// PruneOrphanedCells removes cell directories that have no matching
// construct record, which can happen when a database is recreated.
// Returns the removed directory names.
func PruneOrphanedCells(st *store.Store, projectRoot string, dryRun bool) ([]string, error) {
	cellsDir := config.CellsDir(projectRoot)
	entries, err := os.ReadDir(cellsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cells directory: %w", err)
	}

	constructs, err := st.ListConstructs()
	if err != nil {
		return nil, fmt.Errorf("listing constructs: %w", err)
	}
	known := make(map[string]bool, len(constructs))
	for _, c := range constructs {
		known[c.ID] = true
	}

	var pruned []string
	for _, entry := range entries {
		if !entry.IsDir() || known[entry.Name()] {
			continue
		}
		if !dryRun {
			if rmErr := os.RemoveAll(filepath.Join(cellsDir, entry.Name())); rmErr != nil {
				return pruned, fmt.Errorf("removing %s: %w", entry.Name(), rmErr)
			}
		}
		pruned = append(pruned, entry.Name())
	}

	return pruned, nil
}
