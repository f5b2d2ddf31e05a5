// send.go implements the "construct send" command: forward a message
// to a construct's agent session.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/construct-dev/construct/internal/agent"
)

var sendCmd = &cobra.Command{
	Use:   "send <construct-id> <message...>",
	Short: "Send a message to a construct's agent session",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	id, err := resolveConstructID(env, args[0])
	if err != nil {
		return err
	}

	rec, err := env.store.SessionRecordForConstruct(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("construct %s has no agent session", shortID(id))
	}

	orch := agent.NewOrchestrator(env.agentClient())
	orch.Adopt(agent.Session{
		ID:          rec.ID,
		ConstructID: rec.ConstructID,
		ProviderID:  rec.ProviderID,
		Status:      agent.Status(rec.Status),
	})

	if err := orch.SendMessage(cmd.Context(), rec.ID, strings.Join(args[1:], " ")); err != nil {
		return err
	}

	sess, _ := orch.Session(rec.ID)
	rec.Status = string(sess.Status)
	if err := env.store.SaveSessionRecord(*rec); err != nil {
		return err
	}

	fmt.Printf("sent to session %s\n", rec.ID)
	return nil
}
