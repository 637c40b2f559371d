package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOpts struct {
	broker   string
	username string
	password string
	logLevel string
}

func main() {
	var opts rootOpts

	rootCmd := &cobra.Command{
		Use:           "powerctl",
		Short:         "Control, watch and simulate power agents over MQTT",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.broker, "broker", "b", "tcp://127.0.0.1:1883", "MQTT broker URL")
	rootCmd.PersistentFlags().StringVarP(&opts.username, "username", "u", "", "MQTT username")
	rootCmd.PersistentFlags().StringVarP(&opts.password, "password", "p", "", "MQTT password")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(newControlCmd(&opts))
	rootCmd.AddCommand(newWatchCmd(&opts))
	rootCmd.AddCommand(newSimulateCmd(&opts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("powerctl failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func (o *rootOpts) logger() *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(o.logLevel)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
