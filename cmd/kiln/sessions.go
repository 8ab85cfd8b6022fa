package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/kiln/internal/cli"
	"github.com/aretw0/kiln/pkg/session"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect persisted session records",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored session IDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := sessionManagerFromFlags(cmd)
		if err != nil {
			return err
		}
		ids, err := manager.List(context.Background())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a session record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := sessionManagerFromFlags(cmd)
		if err != nil {
			return err
		}
		record, err := manager.Load(context.Background(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Remove a stored session record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := sessionManagerFromFlags(cmd)
		if err != nil {
			return err
		}
		return manager.Delete(context.Background(), args[0])
	},
}

func sessionManagerFromFlags(cmd *cobra.Command) (*session.Manager, error) {
	opts := engineOptionsFromFlags(cmd)
	if opts.Store == "" || opts.Store == "none" {
		opts.Store = "file"
	}
	store, err := cli.NewStore(opts)
	if err != nil {
		return nil, err
	}
	return session.NewManager(store), nil
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}
