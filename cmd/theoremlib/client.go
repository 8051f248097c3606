package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/theoremlib/internal/api"
	"github.com/ShayCichocki/theoremlib/internal/health"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

var (
	statusKind  string
	depsDirect  bool
	depsReverse bool
	jsonOutput  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <repo-url> <commit>",
	Short: "Submit a project for indexing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := clientContext(cmd.Context())
		defer cancel()

		resp, err := newClient(cfg).Submit(ctx, refArgs(args))
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), resp)
		}
		printStatus("✓", fmt.Sprintf("queued index job %s", resp.TaskID), color.FgGreen)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <repo-url> <commit>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseJobKind(statusKind)
		if err != nil {
			return err
		}
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := clientContext(cmd.Context())
		defer cancel()

		resp, err := newClient(cfg).Status(ctx, kind, refArgs(args))
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), resp)
		}
		symbol, attr := statusStyle(resp.Status)
		msg := fmt.Sprintf("%s: %s", kind, resp.Status)
		if resp.TaskID != "" {
			msg += fmt.Sprintf(" (task %s)", resp.TaskID)
		}
		printStatus(symbol, msg, attr)
		return nil
	},
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List every known artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := clientContext(cmd.Context())
		defer cancel()

		refs, err := newClient(cfg).Artifacts(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), refs)
		}
		return writeArtifacts(cmd.OutOrStdout(), refs)
	},
}

var depsCmd = &cobra.Command{
	Use:   "deps <repo-url> <commit>",
	Short: "List the dependencies of an artifact",
	Long: `List the dependencies of an artifact.

By default every artifact reachable from the root is listed. With --direct
only the root's immediate dependencies are shown. With --reverse the
artifacts that directly depend on the root are listed instead.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := clientContext(cmd.Context())
		defer cancel()

		deps, err := fetchDeps(ctx, newClient(cfg), refArgs(args), depsDirect, depsReverse)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), deps)
		}
		refs := make([]models.ArtifactRef, 0, len(deps))
		for _, d := range deps {
			refs = append(refs, d.ArtifactRef)
		}
		return writeArtifacts(cmd.OutOrStdout(), refs)
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <src-url> <src-commit> <dst-url> <dst-commit>",
	Short: "Record that one artifact depends on another",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := clientContext(cmd.Context())
		defer cancel()

		src, dst := refArgs(args[:2]), refArgs(args[2:])
		if err := newClient(cfg).Connect(ctx, src, dst); err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("%s depends on %s", src, dst), color.FgGreen)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the API and its backends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := clientContext(cmd.Context())
		defer cancel()

		report, err := newClient(cfg).Health(ctx)
		if err != nil {
			printStatus("✗", fmt.Sprintf("API unreachable: %v", err), color.FgRed)
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), report)
		}

		printStatus("✓", fmt.Sprintf("%s %s", report.Service, report.Status), color.FgGreen)
		names := make([]string, 0, len(report.Dependencies))
		for name := range report.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r := report.Dependencies[name]
			symbol, attr := "✓", color.FgGreen
			if r.Status != health.StatusHealthy {
				symbol, attr = "✗", color.FgRed
			}
			msg := fmt.Sprintf("%s %s", name, r.Status)
			if r.ResponseTimeMS != nil {
				msg += fmt.Sprintf(" (%dms)", *r.ResponseTimeMS)
			}
			printStatus(symbol, msg, attr)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusKind, "kind", string(models.JobKindIndex), "Job kind (index, verify, compile)")
	depsCmd.Flags().BoolVar(&depsDirect, "direct", false, "Only list direct dependencies")
	depsCmd.Flags().BoolVar(&depsReverse, "reverse", false, "List the artifacts that depend on this one")
	depsCmd.MarkFlagsMutuallyExclusive("direct", "reverse")

	for _, c := range []*cobra.Command{submitCmd, statusCmd, artifactsCmd, depsCmd, healthCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw JSON response")
	}
}

// depsLister is the part of the API client the deps command uses.
type depsLister interface {
	Dependencies(ctx context.Context, ref models.ArtifactKey, transitive bool) ([]api.DependencyInfo, error)
	Dependents(ctx context.Context, ref models.ArtifactKey) ([]api.DependencyInfo, error)
}

func fetchDeps(ctx context.Context, c depsLister, ref models.ArtifactKey, direct, reverse bool) ([]api.DependencyInfo, error) {
	if reverse {
		return c.Dependents(ctx, ref)
	}
	return c.Dependencies(ctx, ref, !direct)
}

func refArgs(args []string) models.ArtifactKey {
	return models.ArtifactKey{SourceURL: args[0], Revision: args[1]}
}

// printStatus prints a colored status line.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

func statusStyle(status string) (string, color.Attribute) {
	switch models.JobStatus(status) {
	case models.JobStatusSuccess:
		return "✓", color.FgGreen
	case models.JobStatusFail:
		return "✗", color.FgRed
	case models.JobStatusQueued, models.JobStatusRunning:
		return "…", color.FgYellow
	}
	if status == api.StatusNotFound {
		return "?", color.FgHiBlack
	}
	return "-", color.FgWhite
}

// writeArtifacts renders refs as an aligned table.
func writeArtifacts(w io.Writer, refs []models.ArtifactRef) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tCOMMIT\tDEPENDENCIES\tPROOF\tPAPER")
	for _, r := range refs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.SourceURL, r.Revision, r.DependenciesStatus, r.ProofStatus, r.PaperStatus)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
