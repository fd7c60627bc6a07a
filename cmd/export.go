/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/personasync/apiserver/internal/server"
	"github.com/spf13/cobra"
)

// exportCmd writes a profile snapshot to the configured object storage.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all profiles and dashboard stats to object storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		if err := requireDurableKV(cfg); err != nil {
			return err
		}
		backends, err := server.OpenBackends(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer backends.Close()

		sessions := server.NewSessionStore(backends, log)
		key, err := server.NewExportService(sessions, backends).Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		log.Info("export written", "key", key)
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
