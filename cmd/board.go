package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"abfahrt/pkg/board"
	"abfahrt/pkg/transit"
	"abfahrt/pkg/tui"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runBoard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCloser, err := setupFileLogging(cfg.LogFile, debug)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	// The loop is the retry mechanism, so every fetch gets one attempt
	client := transit.NewClient(transit.WithAttempts(1), transit.WithTimeout(cfg.FetchTimeoutDuration()))

	term, err := tui.NewTerminal()
	if err != nil {
		return err
	}
	defer term.Close()

	loop, err := board.New(cfg, term, client, term, board.WithStopNamer(client))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loop.Run(ctx); err != nil {
		log.Error().Err(err).Msg("board stopped")
		return err
	}
	return nil
}
