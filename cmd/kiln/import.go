package main

import (
	"fmt"
	"os"

	"github.com/aretw0/kiln/pkg/translate"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import [notebook] [source]",
	Short: "Convert a notebook into marker-delimited source",
	Long:  `Reads a .ipynb document and writes it back as plain source with "# %%" cell markers, ready to edit and run.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := translate.New().ImportFile(args[0])
		if err != nil {
			return err
		}

		if len(args) == 1 {
			fmt.Print(source)
			return nil
		}
		if err := os.WriteFile(args[1], []byte(source), 0o644); err != nil {
			return fmt.Errorf("writing source file: %w", err)
		}
		fmt.Printf("Imported %s to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
