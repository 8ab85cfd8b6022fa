package main

import (
	"fmt"
	"os"

	"github.com/aretw0/kiln/pkg/translate"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [source] [notebook]",
	Short: "Convert a marker-delimited source file into a notebook",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading source file: %w", err)
		}

		cells := translate.ParseMarkers(string(data), args[0])
		doc, err := translate.New().ToNotebook(cells)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], doc, 0o644); err != nil {
			return fmt.Errorf("writing notebook: %w", err)
		}

		fmt.Printf("Exported %d cells to %s\n", len(cells), args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
