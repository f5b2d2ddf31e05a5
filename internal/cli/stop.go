// stop.go implements the "construct stop" command: tear a construct
// down and archive it.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/construct-dev/construct/internal/agent"
	"github.com/construct-dev/construct/internal/config"
	"github.com/construct-dev/construct/internal/log"
	"github.com/construct-dev/construct/internal/services"
	"github.com/construct-dev/construct/internal/store"
)

var stopCmd = &cobra.Command{
	Use:   "stop <construct-id>",
	Short: "Stop a construct's services and agent session, then archive it",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
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

	// Remote terminate is best-effort; teardown continues regardless.
	rec, err := env.store.SessionRecordForConstruct(id)
	if err != nil {
		return err
	}
	if rec != nil {
		orch := agent.NewOrchestrator(env.agentClient())
		orch.Adopt(agent.Session{
			ID:          rec.ID,
			ConstructID: rec.ConstructID,
			ProviderID:  rec.ProviderID,
			Status:      agent.Status(rec.Status),
		})
		if stopErr := orch.Stop(cmd.Context(), rec.ID); stopErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", stopErr)
		}
		rec.Status = string(agent.StatusCompleted)
		if saveErr := env.store.SaveSessionRecord(*rec); saveErr != nil {
			return saveErr
		}
		_ = env.logger.Append(log.LogEvent{Event: log.EventSessionStopped, ConstructID: id, SessionID: rec.ID})
	}

	cellDir := config.CellDir(env.root, id)
	if stopErr := services.NewSupervisor().Stop(cellDir); stopErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: stopping services: %v\n", stopErr)
	}

	status := store.StatusArchived
	if _, err := env.store.UpdateConstruct(id, store.ConstructUpdate{Status: &status}); err != nil {
		return err
	}

	fmt.Printf("%s archived\n", shortID(id))
	return nil
}
