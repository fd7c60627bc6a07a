/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/personasync/apiserver/config"
	"github.com/personasync/apiserver/internal/logger"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "personasync",
	Short: "PersonaSync profile and survey backend",
	Long: `PersonaSync keeps user profiles, XP and completed surveys for the
survey app, and serves dashboard statistics built from them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// setup loads config and builds the process logger.
func setup() (config.Config, *logger.Logger, error) {
	cfg := config.LoadConfig()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// requireDurableKV rejects the in-memory backend for one-shot commands,
// whose writes would vanish when the process exits.
func requireDurableKV(cfg config.Config) error {
	if cfg.KVBackend == "" || cfg.KVBackend == "memory" {
		return fmt.Errorf("this command needs KV_BACKEND=postgres or redis, got %q", cfg.KVBackend)
	}
	return nil
}

