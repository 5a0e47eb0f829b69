package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hipercam/hdriver/internal/offsetter"
	"github.com/spf13/cobra"
)

var (
	// offset configure flags
	offsetRA  string
	offsetDec string

	// offset start flags
	offsetDir string

	// shared
	offsetAddr string
)

func init() {
	rootCmd.AddCommand(offsetCmd)
	offsetCmd.AddCommand(offsetConfigureCmd)
	offsetCmd.AddCommand(offsetStartCmd)
	offsetCmd.AddCommand(offsetStopCmd)
	offsetCmd.AddCommand(offsetStatusCmd)

	offsetCmd.PersistentFlags().StringVar(&offsetAddr, "addr", "", "daemon address (default: server.addr from config)")

	offsetConfigureCmd.Flags().StringVar(&offsetRA, "ra", "", "comma-separated RA offsets (required)")
	offsetConfigureCmd.Flags().StringVar(&offsetDec, "dec", "", "comma-separated Dec offsets (required)")
	offsetConfigureCmd.MarkFlagRequired("ra")
	offsetConfigureCmd.MarkFlagRequired("dec")

	offsetStartCmd.Flags().StringVar(&offsetDir, "dir", "", "run directory to watch (default: offsetter.directory from config)")
}

var offsetCmd = &cobra.Command{
	Use:   "offset",
	Short: "Control the offset coordinator",
}

var offsetConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Configure the dithering pattern",
	Example: `  # Two-position nod pattern
  hdriver offset configure --ra 1.0,-1.0 --dec 0.5,-0.5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ra, err := parseOffsets(offsetRA)
		if err != nil {
			return fmt.Errorf("bad --ra: %w", err)
		}
		dec, err := parseOffsets(offsetDec)
		if err != nil {
			return fmt.Errorf("bad --dec: %w", err)
		}

		client := newDaemonClient(daemonAddr())
		reply, err := client.post("/offsetter/configure", map[string][]float64{
			"raoff":  ra,
			"decoff": dec,
		})
		if err != nil {
			return err
		}
		fmt.Println(reply.MessageBuffer)
		return nil
	},
}

var offsetStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start watching the run directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := offsetDir
		if dir == "" {
			dir = cfg.Offsetter.Directory
		}

		client := newDaemonClient(daemonAddr())
		reply, err := client.post("/offsetter/start", map[string]string{"directory": dir})
		if err != nil {
			return err
		}
		fmt.Println(reply.MessageBuffer)
		return nil
	},
}

var offsetStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the offset coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newDaemonClient(daemonAddr())
		reply, err := client.post("/offsetter/stop", nil)
		if err != nil {
			return err
		}
		fmt.Println(reply.MessageBuffer)
		return nil
	},
}

var offsetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show offset coordinator status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newDaemonClient(daemonAddr())
		var status offsetter.Status
		if err := client.get("/offsetter/status", &status); err != nil {
			return err
		}

		fmt.Printf("state:    %s\n", status.State)
		if status.Directory != "" {
			fmt.Printf("dir:      %s\n", status.Directory)
		}
		if status.CurrentRun != "" {
			fmt.Printf("run:      %s\n", status.CurrentRun)
		}
		fmt.Printf("pattern:  %d positions (next: %d)\n", status.PatternLength, status.PatternIndex)
		fmt.Printf("runs:     %d seen\n", status.RunsSeen)
		return nil
	},
}

func daemonAddr() string {
	if offsetAddr != "" {
		return offsetAddr
	}
	return cfg.Server.Addr
}

func parseOffsets(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", part)
		}
		out = append(out, v)
	}
	return out, nil
}
