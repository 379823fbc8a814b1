package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	sublime "github.com/sublime-labs/sublimechain"
	"github.com/sublime-labs/sublimechain/src/memory"
	"github.com/sublime-labs/sublimechain/src/models"
	"github.com/sublime-labs/sublimechain/src/tools"
)

func main() {
	var (
		cfgPath string
		verbose bool
	)

	root := &cobra.Command{
		Use:   "sublime",
		Short: "SublimeChain — a conversational agent shell with streaming tool use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, verbose)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "path to sublime.yaml")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sublime:", err)
		os.Exit(1)
	}
}

func run(cfgPath string, verbose bool) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	provider, err := models.New(cfg.Provider)
	if err != nil {
		return fmt.Errorf("init provider: %w", err)
	}

	registry := sublime.NewRegistry(logger)
	for _, tool := range tools.Builtins() {
		if err := registry.RegisterTool(tool); err != nil {
			return fmt.Errorf("register builtin: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, sc := range cfg.Servers {
		server, err := sublime.ConnectMCPServer(ctx, sc.Name, sc.Command, sc.Args, sc.Env)
		if err != nil {
			// A dead server must not take the shell down with it.
			logger.Warn("tool server unavailable", "server", sc.Name, "error", err)
			continue
		}
		registry.AddServer(server)
	}
	defer registry.Close()

	if _, err := registry.Load(ctx); err != nil {
		return fmt.Errorf("load tools: %w", err)
	}

	var manager *memory.Manager
	if cfg.Memory.Enabled {
		store, err := buildStore(ctx, cfg.Memory)
		if err != nil {
			logger.Warn("memory backend unavailable, continuing without it", "error", err)
		} else {
			manager = memory.NewManager(store, memory.AutoEmbedder(), logger)
			defer manager.Close(context.Background())
		}
	}

	orch := sublime.NewOrchestrator(provider, registry, sublime.OrchestratorOptions{
		Memory:       manager,
		SystemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		Logger:       logger,
	})

	sh := &shell{
		orch:     orch,
		registry: registry,
		session:  sublime.NewSession(cfg.sessionConfig()),
		mem:      manager,
	}
	return sh.run()
}
