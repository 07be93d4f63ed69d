// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/extraction-engine/internal/pipeline"
	"github.com/pdiddy/extraction-engine/internal/table"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every reference in the input table",
	Long: `Run reads the input table, then resolves, downloads, and extracts every
reference, stage by stage across the whole batch. When annotation is
enabled, the quoted evidence for each value is located in the PDF and
written as a highlight overlay.

A record that fails at any stage is reported with its failure reason; the
rest of the batch continues. Interrupting the run stops new work, lets
in-flight calls finish, and still writes the results gathered so far.`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().String("input", "", "input table, CSV or YAML (overrides input_file)")
	runCmd.Flags().String("output", "", "output CSV (overrides output_file)")
	runCmd.Flags().String("report", "", "write the JSON batch report to this path (overrides report_file)")
	runCmd.Flags().Bool("no-cache", false, "ignore and do not update the stage cache")
	runCmd.Flags().Bool("annotate", false, "write highlight overlays for extracted values")

	rootCmd.AddCommand(runCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("input"); v != "" {
		cfg.InputFile = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		cfg.OutputFile = v
	}
	if v, _ := cmd.Flags().GetString("report"); v != "" {
		cfg.ReportFile = v
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		cfg.Extraction.CacheEnabled = false
	}
	if ann, _ := cmd.Flags().GetBool("annotate"); ann {
		cfg.Extraction.AnnotatePDFs = true
	}
	if cfg.InputFile == "" {
		return fmt.Errorf("no input table: set input_file or pass --input")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	refs, err := table.ReadReferences(cfg.InputFile, cfg.Columns)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Loaded %d references from %s\n", len(refs), cfg.InputFile)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp, err := buildComponents(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer comp.Close()

	coord := pipeline.New(cfg.Pipeline, cfg.Schema, comp.stages(), pipeline.WithLogger(logger))
	report, runErr := coord.Run(ctx, refs)

	fmt.Fprintln(os.Stdout)
	report.WriteSummary(os.Stdout)

	if err := table.WriteResults(cfg.OutputFile, cfg.Columns, cfg.Schema, report.Records); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Results written to %s\n", cfg.OutputFile)

	if cfg.ReportFile != "" {
		if err := writeReport(cfg.ReportFile, report); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Report written to %s\n", cfg.ReportFile)
	}

	if runErr != nil {
		return fmt.Errorf("batch interrupted: %w", runErr)
	}
	if n := report.FailedCount(); n > 0 {
		return fmt.Errorf("%d record(s) failed", n)
	}
	return nil
}

func writeReport(path string, report *pipeline.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := report.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	return f.Close()
}
