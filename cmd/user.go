/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/personasync/apiserver/internal/server"
	"github.com/personasync/apiserver/internal/services"
	"github.com/personasync/apiserver/types"
	"github.com/spf13/cobra"
)

var (
	newUser       types.NewUser
	newVisibility string
	completeXP    int
)

// userCmd groups profile operations against the default session.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Inspect and modify user profiles",
}

var userGetCmd = &cobra.Command{
	Use:   "get <username>",
	Short: "Print a stored profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd.Context(), func(ctx context.Context, sessions *services.SessionStore) error {
			profile, err := sessions.UserByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(profile)
		})
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a profile and make it the current user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := newUser
		in.Username = args[0]
		in.ProfileVisibility = types.Visibility(newVisibility)
		return withSessions(cmd.Context(), func(ctx context.Context, sessions *services.SessionStore) error {
			profile, err := sessions.Session("").CreateUser(ctx, in)
			if err != nil {
				return err
			}
			return printJSON(profile)
		})
	},
}

var userCompleteCmd = &cobra.Command{
	Use:   "complete <username> <survey-id>",
	Short: "Record a survey completion for a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd.Context(), func(ctx context.Context, sessions *services.SessionStore) error {
			if _, err := sessions.UserByUsername(ctx, args[0]); err != nil {
				return fmt.Errorf("load %q: %w", args[0], err)
			}
			session := sessions.Session("")
			if err := session.SetCurrentUser(ctx, args[0]); err != nil {
				return err
			}
			result, err := session.CompleteSurvey(ctx, args[1], completeXP)
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userGetCmd, userCreateCmd, userCompleteCmd)

	userCreateCmd.Flags().StringVar(&newUser.FirstName, "first-name", "", "first name")
	userCreateCmd.Flags().StringVar(&newUser.LastName, "last-name", "", "last name")
	userCreateCmd.Flags().StringVar(&newUser.Email, "email", "", "email address")
	userCreateCmd.Flags().IntVar(&newUser.Age, "age", 0, "age in years")
	userCreateCmd.Flags().StringVar(&newUser.Gender, "gender", "", "gender")
	userCreateCmd.Flags().StringVar(&newUser.Location, "location", "", "free-form location, e.g. \"Paris, France\"")
	userCreateCmd.Flags().StringVar(&newUser.Bio, "bio", "", "short biography")
	userCreateCmd.Flags().StringSliceVar(&newUser.PersonalityGoals, "goal", nil, "personality goal (repeatable or comma-separated)")
	userCreateCmd.Flags().StringVar(&newVisibility, "visibility", "", "requested visibility (stored as public)")

	userCompleteCmd.Flags().IntVar(&completeXP, "xp", 0, "XP to award on first completion")
}

// withSessions opens the configured backends for the duration of fn.
func withSessions(ctx context.Context, fn func(context.Context, *services.SessionStore) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := requireDurableKV(cfg); err != nil {
		return err
	}
	backends, err := server.OpenBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	return fn(ctx, server.NewSessionStore(backends, log))
}

func printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
