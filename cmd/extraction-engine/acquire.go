// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/extraction-engine/internal/acquire"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire <reference>",
	Short: "Resolve one reference and download its PDF",
	Long: `Acquire resolves a reference, then tries its candidate PDF sources in
order until one yields a valid PDF. The PDF is saved under downloader.pdf_dir
and its text layout is cached for later extraction.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAcquire,
}

func init() {
	acquireCmd.Flags().String("pdf-dir", "", "directory for downloaded PDFs (overrides downloader.pdf_dir)")

	rootCmd.AddCommand(acquireCmd)
}

func runAcquire(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("pdf-dir"); dir != "" {
		cfg.Downloader.PDFDir = dir
	}
	logger := newLogger(cfg.Logging)

	comp, err := buildComponents(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer comp.Close()

	ref := types.PaperReference{Identifier: "cli", Refs: []string{strings.Join(args, " ")}}
	id, _, err := comp.resolver.Resolve(cmd.Context(), ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "resolved:    %s (%s)\n", id.Title, id.Key())

	doc, hit, err := comp.acquirer.Acquire(cmd.Context(), id)
	if err != nil {
		var f *acquire.Failure
		if errors.As(err, &f) {
			for _, a := range f.Attempts {
				fmt.Fprintf(os.Stdout, "  tried %s: %s %s\n", a.Target, a.Reason, a.Error)
			}
		}
		return err
	}

	status := "downloaded"
	if hit {
		status = "reused"
	}
	fmt.Fprintf(os.Stdout, "%s:  %d pages from %s (%s)\n", status, doc.PageCount, doc.SourceURL, doc.Strategy)
	if doc.Path != "" {
		fmt.Fprintf(os.Stdout, "saved:       %s\n", doc.Path)
	}
	return nil
}
