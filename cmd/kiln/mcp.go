package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/kiln/internal/cli"
	mcpAdapter "github.com/aretw0/kiln/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose a kernel session as an MCP server",
	Long:  `Connects a kernel and serves it over the Model Context Protocol, either on stdio (default) or SSE.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sse, _ := cmd.Flags().GetBool("sse")
		port, _ := cmd.Flags().GetInt("port")

		engine, _, err := cli.NewEngine(engineOptionsFromFlags(cmd))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, err := engine.Connect(ctx)
		if err != nil {
			return fmt.Errorf("failed to connect kernel: %w", err)
		}
		defer sess.Close()

		server := mcpAdapter.NewServer(sess)
		if sse {
			return server.ServeSSE(ctx, port)
		}
		return server.ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().Bool("sse", false, "Serve over SSE instead of stdio")
	mcpCmd.Flags().IntP("port", "p", 8765, "Port for SSE mode")
}
