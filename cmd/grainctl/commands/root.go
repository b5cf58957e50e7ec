package commands

import (
	"github.com/spf13/cobra"
)

var (
	// backend selects which membership store grainctl reads active
	// servers from: sqlite or redis. local (the flag's default) is
	// rejected by getClient. Must match the backend the target cluster's
	// graind nodes were started with.
	backend string

	// dataDir is the sqlite data directory (backend=sqlite), matching
	// graind's --data-dir.
	dataDir string

	// redisAddr and redisPrefix locate the shared redis instance
	// (backend=redis), matching graind's --redis-addr/--redis-prefix.
	redisAddr   string
	redisPrefix string

	// outputFormat controls how responses are printed: text or json.
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "grainctl",
	Short: "Command-line client for a grain cluster",
	Long: `grainctl sends ad hoc requests to, and watches subscriptions on, a
running grain cluster, resolving active servers from the same membership
store the cluster's graind nodes share.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "local",
		"Membership store backend: sqlite or redis (local is rejected)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "~/.graind/data",
		"Directory holding membership.db (backend=sqlite)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "127.0.0.1:6379",
		"Redis address (backend=redis)")
	rootCmd.PersistentFlags().StringVar(&redisPrefix, "redis-prefix", "grain",
		"Key prefix shared with the target cluster's stores")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text",
		"Output format: text or json")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(versionCmd)
}
