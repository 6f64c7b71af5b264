// Command creditdrop-server runs the upload coordinator: it accepts
// connections, authenticates them against a directory of shared-secret
// tokens, and lands finished uploads into policy-driven dropbox
// storage. It replaces the teacher's flag-based cmd/receiver with a
// cobra command tree, following the corpus's cobra CLI idiom
// (_examples/tonimelisma-onedrive-go/root.go).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/creditdrop/creditdrop/internal/auth"
	"github.com/creditdrop/creditdrop/internal/config"
	"github.com/creditdrop/creditdrop/internal/coordinator"
	"github.com/creditdrop/creditdrop/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "creditdrop-server",
		Short:         "Run the creditdrop upload coordinator",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/creditdrop/server.yaml", "path to server config file")
	return root
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("parse logging.level: %w", err)
	}
	log := zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()

	if err := os.MkdirAll(cfg.TmpDir, 0o755); err != nil {
		return fmt.Errorf("create tmp_dir: %w", err)
	}

	registry, err := storage.NewRegistry(storage.Options{
		TmpDir:     cfg.TmpDir,
		ManualPath: cfg.Storage.Manual,
		Dropboxes:  cfg.Storage.Dropboxes,
	})
	if err != nil {
		return fmt.Errorf("create storage registry: %w", err)
	}

	verifier, err := auth.NewStaticTokenVerifier(cfg.AuthDir)
	if err != nil {
		return fmt.Errorf("load auth tokens: %w", err)
	}

	srv, err := coordinator.NewServer(cfg.Address, verifier, registry, log)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("address", cfg.Address).Msg("creditdrop-server listening")
	return srv.Run(runCtx)
}
