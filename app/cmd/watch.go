package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Semior001/enhancer/app/enhancer"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

// Watch is a command to enhance the latest article periodically.
type Watch struct {
	PipelineOpts
	Interval time.Duration `long:"interval" env:"INTERVAL" default:"1h" description:"interval between runs"`
}

// Execute runs the command.
func (w Watch) Execute(_ []string) error {
	lg := slog.Default()

	p, closeFn, err := w.pipeline(lg)
	if err != nil {
		return fmt.Errorf("make pipeline: %w", err)
	}
	defer closeFn()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	ewg, ctx := errgroup.WithContext(ctx)
	ewg.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-sig:
			slog.Warn("caught signal, stopping", slog.String("signal", sig.String()))
			stop()
			return ctx.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	ewg.Go(func() error {
		lg.Info("starting watcher", slog.Duration("interval", w.Interval))
		watch(ctx, lg, p, w.Interval)
		lg.Warn("watcher stopped")
		return ctx.Err()
	})

	if err := ewg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

type runner interface {
	Run(ctx context.Context) (enhancer.Summary, error)
}

// watch runs the pipeline right away and then on every tick until ctx
// is done. Runs never overlap, a failed run does not stop the watcher.
func watch(ctx context.Context, lg *slog.Logger, r runner, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s, err := r.Run(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			lg.ErrorCtx(ctx, "run failed", slog.Any("err", err))
		default:
			lg.InfoCtx(ctx, "article enhanced",
				slog.String("run_id", s.RunID),
				slog.String("published_id", string(s.Published.ID)),
				slog.String("published_title", s.Published.Title),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
