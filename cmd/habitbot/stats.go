package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/habitbot/internal/app"
	"github.com/ent0n29/habitbot/internal/config"
	"github.com/ent0n29/habitbot/internal/routine"
)

type statsOutput struct {
	UserID    string                 `json:"user_id"`
	RoutineID int64                  `json:"routine_id"`
	Stats     routine.ExecutionStats `json:"stats"`
	History   []routine.Execution    `json:"history,omitempty"`
}

func statsCmd() *cobra.Command {
	var (
		userID    string
		routineID int64
		history   int
		pretty    bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print execution stats for a routine",
		Long: `Aggregate the stored execution history of one routine: completion rate,
average duration in minutes and average per-step completion rate.

Reads from DATABASE_URL; without it the in-memory store is empty.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				return errors.New("--user is required")
			}
			if routineID <= 0 {
				return errors.New("--routine must be a positive id")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			res, err := app.Build(ctx, cfg, app.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = res.Cleanup(ctx) }()

			out := statsOutput{UserID: userID, RoutineID: routineID}
			out.Stats, err = res.Runs.Stats(ctx, userID, routineID)
			if err != nil {
				return err
			}
			if history > 0 {
				out.History, err = res.Runs.History(ctx, userID, routineID, history)
				if err != nil {
					return err
				}
			}

			enc := json.NewEncoder(os.Stdout)
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Owning user id")
	cmd.Flags().Int64Var(&routineID, "routine", 0, "Routine id")
	cmd.Flags().IntVar(&history, "history", 0, "Also print the N most recent executions")
	cmd.Flags().BoolVar(&pretty, "pretty", true, "Pretty print output")
	return cmd
}
