// clean.go implements the "construct clean" command pruning archived
// constructs' leftovers.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/construct-dev/construct/internal/cleanup"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Prune cell directories of archived constructs",
	RunE:  runClean,
}

var (
	cleanMaxAgeDays int
	cleanDryRun     bool
	cleanOrphans    bool
)

func init() {
	cleanCmd.Flags().IntVar(&cleanMaxAgeDays, "max-age-days", 7, "Only prune constructs archived at least this many days ago")
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "Report what would be pruned without deleting")
	cleanCmd.Flags().BoolVar(&cleanOrphans, "orphans", false, "Also remove cell directories with no construct record")
}

func runClean(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	pruned, err := cleanup.PruneArchived(env.store, env.root, cleanMaxAgeDays, cleanDryRun)
	if err != nil {
		return err
	}
	for _, id := range pruned {
		fmt.Printf("pruned %s\n", shortID(id))
	}

	if cleanOrphans {
		orphans, err := cleanup.PruneOrphanedCells(env.store, env.root, cleanDryRun)
		if err != nil {
			return err
		}
		for _, name := range orphans {
			fmt.Printf("pruned orphaned cell %s\n", name)
		}
		pruned = append(pruned, orphans...)
	}

	if len(pruned) == 0 {
		fmt.Println("Nothing to prune.")
	} else if cleanDryRun {
		fmt.Printf("%d would be pruned (dry run)\n", len(pruned))
	}
	return nil
}
