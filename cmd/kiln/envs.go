package main

import (
	"context"
	"fmt"

	"github.com/aretw0/kiln/internal/cli"
	"github.com/spf13/cobra"
)

var envsCmd = &cobra.Command{
	Use:   "envs",
	Short: "List runtime environments and their capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, err := cli.NewEngine(engineOptionsFromFlags(cmd))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		execOK, err := engine.NotebookSupported(ctx)
		if err != nil {
			return err
		}
		spawnOK, err := engine.KernelSpawnSupported(ctx)
		if err != nil {
			return err
		}
		importOK, err := engine.ImportSupported(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("notebook execution: %s\n", yesNo(execOK))
		fmt.Printf("kernel spawning:    %s\n", yesNo(spawnOK))
		fmt.Printf("notebook import:    %s\n", yesNo(importOK))

		env, err := engine.UsableEnvironment(ctx)
		if err != nil {
			fmt.Println("usable environment: none")
			return nil
		}
		fmt.Printf("usable environment: %s\n", env.String())
		return nil
	},
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(envsCmd)
}
