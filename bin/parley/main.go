package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/useparley/parley/server"
	"github.com/useparley/parley/server/profile"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley",
		Short: "Group-chat service with streaming AI responses",
		RunE: func(_ *cobra.Command, _ []string) error {
			prof, err := profile.GetProfile()
			if err != nil {
				return err
			}
			setupLogger(prof)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.NewServer(ctx, prof)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}

	if err := rootCmd.Execute(); err != nil {
		slog.Error("failed to run parley", "err", err)
		os.Exit(1)
	}
}

func setupLogger(prof *profile.Profile) {
	level := slog.LevelInfo
	if prof.IsDev() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
