package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/theoremlib/internal/paper"
	"github.com/ShayCichocki/theoremlib/internal/task"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task <index|verify|compile>",
	Short: "Run a job inside its environment",
	Long: `Run one job. This is the entrypoint of the job environment images.

The artifact is read from the URL and COMMIT_HASH environment variables.
index validates the dependency manifest and prints the result line read by
the worker. verify runs the proof checker. compile builds the paper and
uploads it to the configured paper sink.

The process exits 0 only when the job succeeded.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(models.JobKindIndex), string(models.JobKindVerify), string(models.JobKindCompile)},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseJobKind(args[0])
		if err != nil {
			return err
		}
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		params, err := task.ParamsFromEnv(os.Getenv)
		if err != nil {
			return err
		}

		sink, err := paper.New(cmd.Context(), cfg.Paper)
		if err != nil {
			return err
		}
		return task.NewRunner(cmd.OutOrStdout(), sink).Run(cmd.Context(), kind, params)
	},
}
