package main

import (
	"time"

	"github.com/aretw0/kiln/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Execute the cells of a source file or notebook",
	Long: `Runs every cell of a Python source file (using "# %%" cell markers)
or a .ipynb notebook against a freshly spawned kernel, streaming output
as it arrives. Ctrl+C interrupts the running cell; a second Ctrl+C
aborts the run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		timeout, _ := cmd.Flags().GetDuration("cell-timeout")
		stopOnError, _ := cmd.Flags().GetBool("stop-on-error")
		quiet, _ := cmd.Flags().GetBool("quiet")

		return cli.RunFile(cli.RunOptions{
			EngineOptions: engineOptionsFromFlags(cmd),
			Path:          args[0],
			SessionID:     sessionID,
			Timeout:       timeout,
			StopOnError:   stopOnError,
			Quiet:         quiet,
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("session", "", "Session ID for record persistence")
	runCmd.Flags().Duration("cell-timeout", 0, "Per-cell execution timeout (0 = none)")
	runCmd.Flags().Bool("stop-on-error", false, "Stop at the first cell that errors")
	runCmd.Flags().BoolP("quiet", "q", false, "Suppress banners and cell echo")
}
