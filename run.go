package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/onedrived/onedrived/internal/config"
	"github.com/onedrived/onedrived/internal/drive"
	"github.com/onedrived/onedrived/internal/engine"
	"github.com/onedrived/onedrived/internal/netmon"
	"github.com/onedrived/onedrived/internal/store"
)

// httpClientTimeout bounds a single API request, uploads and downloads
// included. Prevents a hung connection from wedging a worker forever.
const httpClientTimeout = 10 * time.Minute

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the synchronization daemon",
		Long:  "Continuously synchronize the configured drives until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDaemon()
		},
	}
}

// runDaemon wires the daemon together and runs it until SIGINT or SIGTERM.
// Construction order is stores, then clients, then the engine; shutdown
// unwinds in reverse via defers and context cancellation.
func runDaemon() error {
	dir := config.Dir()
	if err := config.CheckConfigDir(dir); err != nil {
		return err
	}

	cfg, err := config.Load(config.FilePath(dir))
	if err != nil {
		return err
	}

	logger := buildLogger(&cfg.Logging)
	slog.SetDefault(logger)

	if len(cfg.Drives) == 0 {
		return errors.New("no drives configured; add a [drives] section to " + config.FilePath(dir))
	}

	removePID, err := writePIDFile(config.PIDPath(dir))
	if err != nil {
		return err
	}
	defer removePID()

	st, err := store.Open(config.StateDBPath(dir), logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tokens, err := drive.NewFileTokenSource(config.TokenPath(dir), drive.NewOAuthConfig(), logger)
	if err != nil {
		return fmt.Errorf("%w (run `onedrived auth` first)", err)
	}

	client := drive.NewClient(drive.DefaultBaseURL,
		&http.Client{Timeout: httpClientTimeout}, tokens, logger)

	monitor := netmon.New(cfg.Network.ProbeAddress, cfg.Network.ProbeDuration(), logger)

	eng := engine.New(cfg, st, client, monitor, logger)

	ctx := shutdownContext(context.Background(), logger)

	if err := eng.RefreshDrives(ctx); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := monitor.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	})

	group.Go(func() error {
		return eng.Run(ctx)
	})

	logger.Info("onedrived started", "version", version, "pid", os.Getpid())

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("onedrived stopped")

	return nil
}
