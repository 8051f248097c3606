package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/theoremlib/internal/api"
	"github.com/ShayCichocki/theoremlib/internal/callback"
	"github.com/ShayCichocki/theoremlib/internal/executor"
	"github.com/ShayCichocki/theoremlib/internal/health"
	"github.com/ShayCichocki/theoremlib/internal/worker"
)

var serveWithWorkers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API",
	Long: `Run the REST API over the dependency graph and job status store.

The API accepts project submissions, answers status polls and dependency
queries, and receives job callbacks on its /internal endpoints.

With --with-workers a worker pool runs in the same process against the same
broker, status store, and graph database.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorkers, "with-workers", false, "Run a worker pool in-process")
	serveCmd.Flags().StringSliceVar(&workerKinds, "kinds", nil, "Job kinds to consume with --with-workers (default all)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(cfg, true)
	if err != nil {
		return err
	}
	defer b.Close()

	local := callback.NewLocal(b.graph, b.dispatcher.SubmitIndex)
	checkers := b.checkers(cfg)

	var pool *worker.Pool
	if serveWithWorkers {
		exec, err := executor.New(cfg.Executor, os.Stderr)
		if err != nil {
			return err
		}
		if pool, err = newPool(cfg, b, exec, local); err != nil {
			return err
		}
		checkers = append(checkers, health.NewPingChecker("executor", exec, health.DefaultTimeout))
	}

	srv := api.NewServer(api.ServerConfig{
		Service:      cfg.ProjectName,
		Dispatcher:   b.dispatcher,
		Graph:        b.graph,
		Callback:     local,
		PaperBaseURL: cfg.Paper.BaseURL,
		Checkers:     checkers,
		Logger:       logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
	})

	if pool != nil {
		if err := pool.Start(gctx); err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("start workers: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("stopping workers", "running", pool.Count(), "jobs", runningJobs(pool))
			return pool.Stop()
		})
	}

	return g.Wait()
}
