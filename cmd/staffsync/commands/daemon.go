package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/staffsync/config"
	"github.com/teranos/staffsync/logger"
	"github.com/teranos/staffsync/sched"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scheduler daemon",
	Long: `Runs the polling scheduler until interrupted. Exactly one daemon
may run against a given database; a second instance risks duplicate
dispatch.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := logger.Logger

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	// Rows left running by an unclean shutdown would never be dispatched
	// again; return stale ones to pending before polling starts.
	if _, err := eng.store.ResetStaleRunning(time.Now(), cfg.StaleRunningThreshold()); err != nil {
		return err
	}

	ticker := sched.NewTicker(eng.store, eng.executor, cfg.TickerConfig(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker.Start(ctx)

	// Engine tunables (interval, concurrency, backoff) bind at startup;
	// a reload only logs what changed so operators know a restart applies it.
	if cfg.FilePath() != "" {
		watcher, err := config.NewWatcher(cfg, func(next *config.Config) {
			log.Infow("Config file changed; engine settings apply on next restart",
				"path", next.FilePath())
		}, log)
		if err != nil {
			log.Warnw("Config watcher unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	log.Infow("Daemon started",
		"database", cfg.Database.Path,
		"poll_interval_ms", cfg.Scheduler.PollIntervalMS,
		"max_concurrent_jobs", cfg.Scheduler.MaxConcurrentJobs,
		"timezone", cfg.Business.Timezone)

	<-ctx.Done()
	log.Infow("Shutting down")

	ticker.Stop()
	eng.executor.Wait()

	log.Infow("Daemon stopped")
	return nil
}
