package main

import (
	"fmt"
	"os"

	"github.com/aretw0/kiln/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Kiln drives Jupyter-style kernels from the command line",
	Long:  `Kiln discovers Python environments, spawns kernels and executes notebook cells with streaming output.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to a kiln config file")
	rootCmd.PersistentFlags().String("store", "", "Session record backend: memory, file or redis")
	rootCmd.PersistentFlags().String("store-dir", "", "Directory for the file store")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis address for the redis store")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// engineOptionsFromFlags collects the shared engine flags.
func engineOptionsFromFlags(cmd *cobra.Command) cli.EngineOptions {
	configPath, _ := cmd.Flags().GetString("config")
	store, _ := cmd.Flags().GetString("store")
	storeDir, _ := cmd.Flags().GetString("store-dir")
	redisURL, _ := cmd.Flags().GetString("redis-url")
	logLevel, _ := cmd.Flags().GetString("log-level")
	debug, _ := cmd.Flags().GetBool("debug")

	return cli.EngineOptions{
		ConfigPath: configPath,
		Store:      store,
		StoreDir:   storeDir,
		RedisURL:   redisURL,
		LogLevel:   logLevel,
		Debug:      debug,
	}
}
