package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SiriusScan/host-diff/sirius/api"
	"github.com/SiriusScan/host-diff/sirius/hostdiff"
	"github.com/SiriusScan/host-diff/sirius/queue"
	"github.com/SiriusScan/host-diff/sirius/slogger"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the HTTP API and, when enabled, consume queued uploads",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = slogger.WithAttrs(ctx, slog.String("cmd", "serve"), slog.Int("pid", os.Getpid()))

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	svc := b.service(cfg)

	opts := []api.Option{api.WithMaxUploadBytes(cfg.Ingest.MaxUploadBytes)}
	if b.db != nil {
		opts = append(opts, api.WithEventsDB(b.db))
	}
	srv := api.NewServer(cfg.HTTP.Address, svc, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if cfg.Queue.Enabled {
		g.Go(func() error {
			queue.ListenWithRetry(gctx, cfg.Queue.URL, cfg.Queue.Name, hostdiff.NewIngestProcessor(svc))
			return nil
		})
	}

	slog.InfoContext(ctx, "hostdiff started", "backend", cfg.Backend(), "addr", cfg.HTTP.Address, "queue", cfg.Queue.Enabled)
	err = g.Wait()
	slog.InfoContext(ctx, "hostdiff stopped")
	return err
}
