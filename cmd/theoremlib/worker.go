package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/theoremlib/internal/callback"
	"github.com/ShayCichocki/theoremlib/internal/config"
	"github.com/ShayCichocki/theoremlib/internal/executor"
	"github.com/ShayCichocki/theoremlib/internal/worker"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

var workerKinds []string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume jobs and run them in ephemeral environments",
	Long: `Consume jobs from the broker and run each in an ephemeral environment.

Each job kind has its own queue and worker count (worker.concurrency). A
worker takes one delivery at a time and acknowledges it only after the
environment has exited and the job status and graph callback were written.

Creating a "drain" file in worker.signals_dir stops workers from taking new
jobs; in-flight jobs finish and the process exits.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Signal local workers to stop taking new jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Worker.SignalsDir == "" {
			return fmt.Errorf("worker.signals_dir is not configured")
		}
		if err := worker.SendDrain(cfg.Worker.SignalsDir); err != nil {
			return err
		}
		printStatus("✓", "drain signal sent to "+cfg.Worker.SignalsDir, color.FgGreen)
		return nil
	},
}

func init() {
	workerCmd.Flags().StringSliceVar(&workerKinds, "kinds", nil, "Job kinds to consume (default all)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(cfg, cfg.Callback.GraphURL == "")
	if err != nil {
		return err
	}
	defer b.Close()

	g, err := b.callbackGraph(cfg)
	if err != nil {
		return err
	}

	exec, err := executor.New(cfg.Executor, os.Stderr)
	if err != nil {
		return err
	}
	pool, err := newPool(cfg, b, exec, g)
	if err != nil {
		return err
	}
	if cfg.Worker.SignalsDir != "" {
		if err := worker.ClearDrain(cfg.Worker.SignalsDir); err != nil {
			return err
		}
	}
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested", "running", pool.Count(), "jobs", runningJobs(pool))
	case <-done:
		logger.Info("workers drained")
	}
	return pool.Stop()
}

// runningJobs names the in-flight jobs as kind/id for shutdown logs.
func runningJobs(pool *worker.Pool) []string {
	jobs := pool.Running()
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, string(job.Kind)+"/"+job.ID)
	}
	return names
}

// newPool builds a worker pool running jobs on exec and reporting into g.
func newPool(cfg *config.Config, b *backends, exec executor.Executor, g callback.Graph) (*worker.Pool, error) {
	kinds, err := parseKinds(workerKinds)
	if err != nil {
		return nil, err
	}
	concurrency, err := worker.Concurrency(cfg.Worker, kinds)
	if err != nil {
		return nil, err
	}

	return worker.NewPool(worker.PoolConfig{
		Broker:      b.broker,
		Processor:   worker.NewProcessor(cfg.ProjectName, cfg.Executor, exec, b.status, g),
		Concurrency: concurrency,
		SignalsDir:  cfg.Worker.SignalsDir,
	}), nil
}

func parseKinds(names []string) ([]models.JobKind, error) {
	kinds := make([]models.JobKind, 0, len(names))
	for _, name := range names {
		kind, err := models.ParseJobKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
