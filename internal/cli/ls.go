// ls.go implements the "construct ls" command listing all constructs.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/construct-dev/construct/internal/store"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List constructs",
	RunE:  runLs,
}

var lsAll bool

func init() {
	lsCmd.Flags().BoolVarP(&lsAll, "all", "a", false, "Include archived constructs")
}

func runLs(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	constructs, err := env.store.ListConstructs()
	if err != nil {
		return err
	}

	shown := 0
	fmt.Printf("  %-10s %-20s %-14s %-13s %s\n", "ID", "NAME", "TEMPLATE", "STATUS", "UPDATED")
	for _, c := range constructs {
		if c.Status == store.StatusArchived && !lsAll {
			continue
		}
		fmt.Printf("  %-10s %-20s %-14s %-13s %s\n",
			shortID(c.ID), c.Name, c.TemplateID, c.Status, c.UpdatedAt.Format("2006-01-02 15:04"))
		shown++
	}

	if shown == 0 {
		fmt.Println()
		fmt.Println("No constructs. Provision one with: construct up <template-id>")
	}
	return nil
}
