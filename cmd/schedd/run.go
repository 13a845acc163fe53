package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pewsched/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler daemon",
	Long: `Start the scheduler daemon and block until SIGINT or SIGTERM.

The config file is watched; logging, scheduler and debug settings are applied
live, storage and task changes on the next start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}

		reason := app.StopAppStop
		select {
		case sig := <-sigs:
			reason = app.StopSIGTERM
			if sig == os.Interrupt {
				reason = app.StopSIGINT
			}
		case <-a.Done():
			reason = app.StopFatalError
		case <-ctx.Done():
		}

		// Grace for the engine step plus the fixed steps around it.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		stopErr := a.Stop(stopCtx, reason)
		if reason == app.StopFatalError && a.Err() != nil {
			return a.Err()
		}
		return stopErr
	},
}
