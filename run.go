package deimos

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Run starts the watchdog for cfg and blocks until a shutdown signal or a
// fatal pipeline error. SIGHUP queues an immediate health check.
func Run(ctx context.Context, cfg *Config) error {
	if cfg.PIDFile != "" {
		if err := checkOrCreatePIDFile(cfg.PIDFile); err != nil {
			return err
		}
		defer removePIDFile(cfg.PIDFile)
	}
	slog.Info("Watchdog: starting",
		slog.String("tool", cfg.Tool),
		slog.String("binDir", cfg.BinDir),
		slog.String("rpc", cfg.RPC.Endpoint()),
		slog.Duration("pollInterval", cfg.PollInterval.Std()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := New(cfg)

	if w, err := newAliasWatcher(cfg.BinDir, cfg.Tool, s.QueueCheck); err != nil {
		slog.Warn("Binary directory watch disabled", slog.String("err", err.Error()))
	} else {
		defer w.Close()
		go w.run(ctx)
	}
	if cfg.MetricsAddr != "" {
		go s.serveControl(ctx, cfg.MetricsAddr)
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)
	go func() {
		for {
			select {
			case sig := <-sigC:
				if sig == syscall.SIGHUP {
					slog.Info("Watchdog: SIGHUP received, queueing health check")
					s.QueueCheck("sighup")
					continue
				}
				slog.Info("Watchdog: shutdown signal received", slog.String("signal", sig.String()))
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	err := s.Run(ctx)
	if err != nil {
		slog.Error("Watchdog: stopping after pipeline failure", slog.String("err", err.Error()))
		return err
	}
	slog.Info("Watchdog: stopped")
	return nil
}
