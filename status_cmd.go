package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/onedrived/onedrived/internal/config"
	"github.com/onedrived/onedrived/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and drive state from the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	dir := config.Dir()
	if err := config.CheckConfigDir(dir); err != nil {
		return err
	}

	// Quiet logger: status is a read-only query, the store's operational
	// chatter would drown the output.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(config.StateDBPath(dir), logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()

	counts, err := st.TaskCounts(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Tasks: %d pending, %d running, %d done, %d failed\n",
		counts[store.TaskPending], counts[store.TaskRunning],
		counts[store.TaskDone], counts[store.TaskFailed])

	drives, err := st.ListDrives(ctx)
	if err != nil {
		return err
	}

	if len(drives) == 0 {
		fmt.Fprintln(out, "No drives synchronized yet.")

		return nil
	}

	for _, d := range drives {
		fmt.Fprintf(out, "Drive %s (%s)\n", d.ID, d.DriveType)
		fmt.Fprintf(out, "  sync root: %s\n", d.SyncRoot)
		fmt.Fprintf(out, "  quota:     %s of %s used\n",
			formatBytes(d.QuotaUsed), formatBytes(d.QuotaTotal))
		fmt.Fprintf(out, "  refreshed: %s\n",
			time.Unix(0, d.RefreshedAt).Format(time.RFC3339))
	}

	failed, err := st.ListTasksByStatus(ctx, store.TaskFailed)
	if err != nil {
		return err
	}

	for _, t := range failed {
		fmt.Fprintf(out, "Failed: [%s] %s: %s\n", t.Kind, t.LocalPath, t.LastError)
	}

	return nil
}

// formatBytes renders a byte count in a human unit.
func formatBytes(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
