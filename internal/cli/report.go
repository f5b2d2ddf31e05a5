// report.go implements the "construct report" command.
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/construct-dev/construct/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize construct state and provisioning timings",
	RunE:  runReport,
}

var reportWrite bool

func init() {
	reportCmd.Flags().BoolVar(&reportWrite, "write", false, "Also write the report to .construct/report.md")
}

func runReport(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	r, err := report.Generate(env.store, env.logger, env.cfg.Project)
	if err != nil {
		return err
	}

	fmt.Print(report.FormatReport(r))

	if reportWrite {
		dir := filepath.Join(env.root, ".construct")
		if err := report.WriteReport(dir, r); err != nil {
			return err
		}
		fmt.Printf("\nReport written to %s\n", filepath.Join(dir, "report.md"))
	}
	return nil
}
