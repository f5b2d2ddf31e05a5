// up.go implements the "construct up" command: provision one or more
// constructs concurrently.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var upCmd = &cobra.Command{
	Use:   "up <template-id> [template-id...]",
	Short: "Provision workspaces from templates",
	Long: `Provision one construct per named template. Each construct gets a
dedicated git worktree, running services with allocated ports, and a
remote agent session. Multiple templates provision concurrently.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUp,
}

var upName string

func init() {
	upCmd.Flags().StringVar(&upName, "name", "", "Construct name (single template only; defaults to the template id)")
}

func runUp(cmd *cobra.Command, args []string) error {
	if upName != "" && len(args) > 1 {
		return fmt.Errorf("--name applies to a single template")
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	pipe := env.newPipeline()
	templates := env.templates()

	g, ctx := errgroup.WithContext(cmd.Context())
	for _, templateID := range args {
		templateID := templateID
		g.Go(func() error {
			tpl, err := templates.ByID(templateID)
			if err != nil {
				return err
			}

			name := upName
			if name == "" {
				name = tpl.ID
			}

			c, err := pipe.Provision(ctx, tpl, name)
			if err != nil {
				return fmt.Errorf("provisioning %s: %w", templateID, err)
			}

			fmt.Printf("%s  %s is active (workspace %s)\n", shortID(c.ID), c.Name, c.WorkspacePath)
			return nil
		})
	}

	return g.Wait()
}
