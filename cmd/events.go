/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/personasync/apiserver/internal/mq"
	"github.com/personasync/apiserver/types"
	"github.com/spf13/cobra"
)

var eventsChannel string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Work with profile events on the message broker",
}

// eventsTailCmd prints events from one channel until interrupted.
var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print events published on a channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		bus, err := mq.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if bus == nil {
			return errors.New("MQ_BACKEND is not configured")
		}
		defer bus.Close()

		out := cmd.OutOrStdout()
		err = bus.Subscribe(cmd.Context(), eventsChannel, func(ctx context.Context, msg mq.Message) error {
			log.Debug("event received", "channel", eventsChannel, "id", msg.ID)
			_, err := fmt.Fprintln(out, string(msg.Data))
			return err
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)

	eventsTailCmd.Flags().StringVar(&eventsChannel, "channel", types.ChannelSurveyCompleted, "channel to subscribe to")
}
