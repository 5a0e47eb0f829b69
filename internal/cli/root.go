// Package cli provides the hdriver command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/hipercam/hdriver/internal/config"
	"github.com/hipercam/hdriver/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hdriver",
	Short: "HiPERCAM observation coordination daemon",
	Long: `hdriver coordinates automated HiPERCAM observing: it watches the run
directory for completed frames, steps the telescope through a dithering
pattern, resumes the exposure sequencer, and sequences the instrument
setup commands for observation mode changes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		cfg = loaded
		logging.Setup(cfg.LogLevel, true)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./hdriver.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
