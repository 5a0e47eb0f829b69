package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hipercam/hdriver/internal/obsmode"
	"github.com/spf13/cobra"
)

var setupFile string

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().StringVar(&setupFile, "file", "", "JSON setup file (required; use \"idle\" for the idle mode)")
	setupCmd.MarkFlagRequired("file")
	setupCmd.PersistentFlags().StringVar(&offsetAddr, "addr", "", "daemon address (default: server.addr from config)")
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Apply an observation mode to the instrument",
	Long: `Apply an observation mode.

The setup file is the JSON payload the GUI posts: an "appdata" block
selecting the mode and its parameters plus an optional "user" block of
header values. Passing --file idle applies the built-in idle mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var setup obsmode.Setup
		if setupFile == "idle" {
			setup.App.App = string(obsmode.KindIdle)
		} else {
			data, err := os.ReadFile(setupFile)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &setup); err != nil {
				return fmt.Errorf("parse %s: %w", setupFile, err)
			}
		}

		// Validate locally before bothering the daemon.
		if _, err := obsmode.FromSetup(setup); err != nil {
			return err
		}

		client := newDaemonClient(daemonAddr())
		reply, err := client.post("/setup", setup)
		if err != nil {
			return err
		}
		fmt.Printf("%s [%s]\n", reply.MessageBuffer, reply.RetCode)
		return nil
	},
}
