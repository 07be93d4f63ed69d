// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/extraction-engine/internal/table"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Print an input table template for the configured schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := table.WriteTemplate(os.Stdout, cfg.Columns, cfg.Schema); err != nil {
			return fmt.Errorf("writing template: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(templateCmd)
}
