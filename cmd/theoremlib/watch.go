package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/theoremlib/internal/tui"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <repo-url> <commit>",
	Short: "Follow the jobs of an artifact until they finish",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		model := tui.NewWatchModel(newClient(cfg), refArgs(args), watchInterval)
		if _, err := tea.NewProgram(model, tea.WithContext(cmd.Context())).Run(); err != nil {
			return err
		}
		if model.Failed() {
			return fmt.Errorf("one or more jobs failed")
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "Polling interval")
}
