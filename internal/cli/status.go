// status.go implements the "construct status" command showing one
// construct's state and its provisioning timing trail.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/construct-dev/construct/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <construct-id>",
	Short: "Show a construct's state and provisioning timings",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	id, err := resolveConstructID(env, args[0])
	if err != nil {
		return err
	}

	c, err := env.store.GetConstruct(id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("construct %s not found", id)
	}

	fmt.Printf("Construct %s\n", c.ID)
	fmt.Printf("  Name:      %s\n", c.Name)
	fmt.Printf("  Template:  %s\n", c.TemplateID)
	fmt.Printf("  Status:    %s\n", c.Status)
	if c.WorkspacePath != "" {
		fmt.Printf("  Workspace: %s\n", c.WorkspacePath)
	}
	if branch := c.Metadata["branch"]; branch != "" {
		fmt.Printf("  Branch:    %s\n", branch)
	}
	if lastErr := c.Metadata[store.MetaLastError]; lastErr != "" && c.Status == store.StatusError {
		fmt.Printf("  Error:     %s\n", lastErr)
	}

	rec, err := env.store.SessionRecordForConstruct(c.ID)
	if err != nil {
		return err
	}
	if rec != nil {
		fmt.Printf("  Session:   %s (%s)\n", rec.ID, rec.Status)
	}

	steps, err := env.store.TimingSteps(c.ID)
	if err != nil {
		return err
	}
	if len(steps) > 0 {
		fmt.Println()
		fmt.Println("Provisioning steps:")
		lastRun := ""
		for _, step := range steps {
			if step.RunID != lastRun {
				fmt.Printf("  run %s\n", shortID(step.RunID))
				lastRun = step.RunID
			}
			fmt.Printf("    %-22s %-6s %6dms\n", step.Step, step.Outcome, step.Duration.Milliseconds())
		}
	}

	return nil
}
