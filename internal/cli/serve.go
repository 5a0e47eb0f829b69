package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hipercam/hdriver/internal/db"
	"github.com/hipercam/hdriver/internal/events"
	"github.com/hipercam/hdriver/internal/logging"
	"github.com/hipercam/hdriver/internal/ngc"
	"github.com/hipercam/hdriver/internal/offsetter"
	"github.com/hipercam/hdriver/internal/sequencer"
	"github.com/hipercam/hdriver/internal/server"
	"github.com/hipercam/hdriver/internal/tele"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hdriver control daemon",
	Long: `Run the HTTP control daemon.

The daemon exposes the instrument setup endpoint and the offsetter control
endpoints, and records observation events to the event log database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	logger := logging.Component("main")

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	recorder := events.NewRecorder(db.NewEventRepository(database))

	ngcClient := ngc.NewClient(cfg.NGC.URL)
	teleClient := tele.NewClient(cfg.Telescope.URL)

	seq := sequencer.New(sequencer.Config{
		Pacing: cfg.Sequencer.Pacing,
	}, ngcClient, recorder)

	coord := offsetter.New(offsetter.Config{
		Glob:             cfg.Offsetter.Glob,
		DebounceInterval: cfg.Offsetter.DebounceInterval,
		SettleDelay:      cfg.Offsetter.SettleDelay,
	}, teleClient, ngcClient, recorder)
	defer coord.Stop()

	srv := server.New(seq, coord, server.WithVersion(Version))
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("version", Version).Msg("control daemon listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
