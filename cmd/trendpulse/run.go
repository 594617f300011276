package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/trendpulse/internal/scheduler"
)

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Refresh every stream on its schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := newRefresher(db)
		if err != nil {
			return err
		}

		job := func(ctx context.Context, streamID int64) error {
			_, err := r.Run(ctx, streamID)
			return err
		}
		sched := scheduler.New(db, job, scheduler.Options{
			Tick:    cfg.Scheduler.Tick,
			Workers: cfg.Scheduler.Workers,
		})

		ctx := cmd.Context()
		if err := sched.Start(ctx); err != nil {
			return err
		}
		if cfg.Scheduler.Watch {
			go func() {
				if err := sched.Watch(ctx, db.Path(), cfg.Scheduler.ReconcileInterval); err != nil {
					slog.Error("database watcher stopped", "err", err)
				}
			}()
		}

		fmt.Printf("Scheduling %d stream(s). Press Ctrl+C to stop\n", sched.Len())
		<-ctx.Done()

		fmt.Println("\nShutting down, waiting for running refreshes...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancel()
		return sched.Shutdown(shutdownCtx)
	},
}

// --- update command ---

var updateCmd = &cobra.Command{
	Use:   "update [stream-id]",
	Short: "Refresh one stream now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("stream", args[0])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := newRefresher(db)
		if err != nil {
			return err
		}

		fmt.Printf("Refreshing stream [%d]...\n", id)
		out, err := r.Run(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("update failed after %d attempt(s): %w", out.Attempts, err)
		}
		fmt.Println()
		printSummary(out.Summary)
		return nil
	},
}
