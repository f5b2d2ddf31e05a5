// retry.go implements the "construct retry" command: resume a failed
// provisioning run.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <construct-id>",
	Short: "Resume provisioning of a failed construct",
	Long: `Re-run the provisioning pipeline for a construct that ended in error.
Steps whose artifacts already exist are skipped, so the retry picks up
from the first incomplete step.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func runRetry(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	id, err := resolveConstructID(env, args[0])
	if err != nil {
		return err
	}

	c, err := env.newPipeline().Retry(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s is active (workspace %s)\n", shortID(c.ID), c.Name, c.WorkspacePath)
	return nil
}

// resolveConstructID accepts a full id or an unambiguous prefix.
func resolveConstructID(env *cmdEnv, idOrPrefix string) (string, error) {
	constructs, err := env.store.ListConstructs()
	if err != nil {
		return "", err
	}

	var matches []string
	for _, c := range constructs {
		if c.ID == idOrPrefix {
			return c.ID, nil
		}
		if len(idOrPrefix) >= 4 && len(c.ID) >= len(idOrPrefix) && c.ID[:len(idOrPrefix)] == idOrPrefix {
			matches = append(matches, c.ID)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no construct matches %q", idOrPrefix)
	default:
		return "", fmt.Errorf("%q is ambiguous (%d matches)", idOrPrefix, len(matches))
	}
}
