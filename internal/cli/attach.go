// attach.go implements the "construct attach" command: follow a
// construct's agent session live.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/construct-dev/construct/internal/agent"
	"github.com/construct-dev/construct/internal/relay"
	"github.com/construct-dev/construct/internal/stream"
)

var attachCmd = &cobra.Command{
	Use:   "attach <construct-id>",
	Short: "Follow a construct's agent session",
	Long: `Subscribe to the agent session's event feed and print messages as
they stream in. Reconnects automatically on feed drops; interrupt with
Ctrl-C to detach.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func runAttach(cmd *cobra.Command, args []string) error {
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

	backoff := stream.Backoff{
		Base:   time.Duration(env.cfg.Relay.BackoffBaseMs) * time.Millisecond,
		Max:    time.Duration(env.cfg.Relay.BackoffMaxMs) * time.Millisecond,
		Factor: env.cfg.Relay.BackoffFactor,
	}

	r := relay.New(
		stream.NewWebSocketClient(env.cfg.Agent.Endpoint),
		&agentHistory{client: env.agentClient()},
		relay.WithBackoff(backoff),
		relay.WithLogger(env.logger),
	)

	printer := newMessagePrinter()
	unsubscribe := r.Subscribe(rec.ID,
		printer.render,
		func(err error) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		},
		relay.WithStatusHandler(func(status string) {
			printer.line(fmt.Sprintf("-- session %s --", status))
		}),
		relay.WithPermissionHandler(func(pending []relay.PermissionRequest) {
			for _, p := range pending {
				printer.line(fmt.Sprintf("-- permission requested: %s --", p.Title))
			}
		}),
	)
	defer unsubscribe()

	fmt.Printf("attached to session %s (Ctrl-C to detach)\n", rec.ID)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	<-ctx.Done()

	fmt.Println()
	return nil
}

// agentHistory adapts the coding-agent message listing to the relay's
// history fetcher.
type agentHistory struct {
	client agent.Client
}

func (h *agentHistory) SessionHistory(ctx context.Context, sessionID string) ([]relay.MessageRecord, error) {
	msgs, err := h.client.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	records := make([]relay.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		completed := m.CreatedAt
		records = append(records, relay.MessageRecord{
			ID:          m.ID,
			SessionID:   sessionID,
			Role:        m.Role,
			CreatedAt:   m.CreatedAt,
			CompletedAt: &completed,
			Parts: []relay.PartRecord{
				{ID: m.ID + "-text", MessageID: m.ID, Type: "text", Text: m.Content},
			},
		})
	}
	return records, nil
}

// messagePrinter renders snapshots incrementally: completed messages
// print once, the streaming tail redraws in place on a TTY.
type messagePrinter struct {
	printed   map[string]bool
	streaming bool
}

func newMessagePrinter() *messagePrinter {
	return &messagePrinter{printed: make(map[string]bool)}
}

func (p *messagePrinter) render(messages []relay.Message) {
	for _, m := range messages {
		switch {
		case m.State == relay.StateStreaming:
			if isTTY() {
				fmt.Printf("\r\033[K[%s] %s", m.Role, tail(m.Content, 100))
				p.streaming = true
			}
		case !p.printed[m.ID]:
			p.clearStreamingLine()
			label := m.Role
			if m.State == relay.StateError {
				label = m.Role + " error"
			}
			fmt.Printf("[%s] %s\n", label, m.Content)
			p.printed[m.ID] = true
		}
	}
}

func (p *messagePrinter) line(s string) {
	p.clearStreamingLine()
	fmt.Println(s)
}

func (p *messagePrinter) clearStreamingLine() {
	if p.streaming {
		fmt.Print("\r\033[K")
		p.streaming = false
	}
}

// tail returns the last n characters of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
