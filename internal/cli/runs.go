package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/hipercam/hdriver/internal/db"
	"github.com/hipercam/hdriver/internal/models"
	"github.com/spf13/cobra"
)

var (
	runsType  string
	runsSince time.Duration
	runsLimit int
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().StringVar(&runsType, "type", "", "filter by event type (e.g. offset.applied)")
	runsCmd.Flags().DurationVar(&runsSince, "since", 0, "only events newer than this (e.g. 12h)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 200, "maximum events to print")
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Print the observation event log",
	Long: `Print the observation event log recorded by the daemon: runs
discovered, offsets applied, sequencer triggers and instrument setups.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer database.Close()

		query := db.EventQuery{Limit: runsLimit}
		if runsType != "" {
			t := models.EventType(runsType)
			query.Type = &t
		}
		if runsSince > 0 {
			since := time.Now().Add(-runsSince)
			query.Since = &since
		}

		repo := db.NewEventRepository(database)
		eventList, err := repo.List(context.Background(), query)
		if err != nil {
			return err
		}

		for _, event := range eventList {
			line := fmt.Sprintf("%s  %-18s %-10s %s",
				event.Timestamp.Local().Format("2006-01-02 15:04:05"),
				event.Type, event.EntityType, event.EntityID)
			if len(event.Payload) > 0 {
				line += "  " + string(event.Payload)
			}
			fmt.Println(line)
		}
		if len(eventList) == 0 {
			fmt.Println("no events")
		}
		return nil
	},
}
