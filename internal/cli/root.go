// Package cli defines Cobra command definitions for the construct CLI.
// This file contains the root command and the shared command
// environment.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/construct-dev/construct/internal/agent"
	"github.com/construct-dev/construct/internal/config"
	"github.com/construct-dev/construct/internal/log"
	"github.com/construct-dev/construct/internal/ports"
	"github.com/construct-dev/construct/internal/provision"
	"github.com/construct-dev/construct/internal/services"
	"github.com/construct-dev/construct/internal/store"
)

var (
	verbose bool
	version = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "construct",
	Short: "Ephemeral development workspace provisioner",
	Long: `Construct provisions isolated development workspaces (cells) from
templates: a dedicated git worktree, running backing services with
allocated ports, and a remote coding-agent session primed with an
assembled prompt.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// isTTY returns true if stdout is connected to a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// cmdEnv bundles the project-rooted collaborators most commands need.
type cmdEnv struct {
	root   string
	cfg    *config.Config
	store  *store.Store
	logger *log.Logger
}

// loadEnv locates the project root, reads the config, and opens the
// store and event log. Fails with a hint when the project was never
// initialized.
func loadEnv() (*cmdEnv, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	cfg, err := config.ReadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("no construct project here (run: construct init): %w", err)
	}

	st, err := store.Open(filepath.Join(root, cfg.DatabasePath))
	if err != nil {
		return nil, err
	}

	logger, err := log.NewLogger(root)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &cmdEnv{root: root, cfg: cfg, store: st, logger: logger}, nil
}

func (e *cmdEnv) close() {
	_ = e.store.Close()
}

// agentClient returns the remote coding-agent API client.
func (e *cmdEnv) agentClient() agent.Client {
	return agent.NewHTTPClient(e.cfg.Agent.Endpoint)
}

// newPipeline wires the provisioning pipeline with production
// collaborators.
func (e *cmdEnv) newPipeline() *provision.Pipeline {
	return provision.NewPipeline(provision.Deps{
		Store:       e.store,
		VCS:         provision.GitVCS{},
		Services:    services.NewSupervisor(),
		Sessions:    agent.NewOrchestrator(e.agentClient()),
		Templates:   e.templates(),
		Allocator:   ports.NewAllocator(ports.TCPProber{}, ports.NewHighWaterMark(e.cfg.Ports.Base)),
		Logger:      e.logger,
		Provider:    e.cfg.Agent.Provider,
		ProjectRoot: e.root,
	})
}

func (e *cmdEnv) templates() provision.DirTemplates {
	return provision.DirTemplates{Dir: filepath.Join(e.root, e.cfg.TemplatesDir)}
}

// shortID abbreviates a construct UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Print progress details while provisioning")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(cleanCmd)
}
