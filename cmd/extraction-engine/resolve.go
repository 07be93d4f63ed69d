// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <reference>",
	Short: "Resolve one reference and print the paper identity",
	Long: `Resolve maps a DOI, arXiv ID, URL, or free-text citation to a paper
identity with ranked PDF source candidates and prints it as YAML. Useful for
checking why a record in a batch ended up unresolved.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	comp, err := buildComponents(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer comp.Close()

	ref := types.PaperReference{Identifier: "cli", Refs: []string{strings.Join(args, " ")}}
	id, hit, err := comp.resolver.Resolve(cmd.Context(), ref)
	if err != nil {
		return err
	}
	if hit {
		fmt.Fprintln(os.Stderr, "(from cache)")
	}
	out, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("encoding identity: %w", err)
	}
	os.Stdout.Write(out)
	return nil
}
