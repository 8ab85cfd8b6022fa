package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/kiln/internal/cli"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec [code]",
	Short: "Execute a single code snippet in a fresh kernel",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, err := cli.NewEngine(engineOptionsFromFlags(cmd))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		sess, err := engine.Connect(ctx)
		if err != nil {
			if err == domain.ErrNoUsableEnvironment {
				return fmt.Errorf("no usable environment found (is ipykernel installed?)")
			}
			return err
		}
		defer sess.Close()

		cell, err := sess.Execute(ctx, strings.Join(args, " "), "", 0)
		if err != nil {
			return err
		}

		if text := cell.Text(); text != "" {
			fmt.Print(text)
			if !strings.HasSuffix(text, "\n") {
				fmt.Println()
			}
		}
		if cell.State == domain.CellStateError {
			if eo := cell.ErrorOutput(); eo != nil {
				fmt.Fprintf(os.Stderr, "%s: %s\n", eo.ErrorName, eo.ErrorValue)
			}
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}
