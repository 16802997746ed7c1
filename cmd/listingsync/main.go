// Command listingsync is the operator tool for listings kept in sync across
// PostgreSQL, Elasticsearch and redis.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/listingsync/internal/config"
)

const Version = "0.4.0"

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "listingsync",
		Short: "Keep listings in sync across database, search index and cache",
		Long: `listingsync (v` + Version + `)

Writes go to the PostgreSQL system of record first, then the search index,
then the redis cache, and are finally announced on the redis queue.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.BindCommandFlags(cmd)
		},
	}
	config.SetupFlags(root)

	root.AddCommand(
		migrateCmd(),
		getCmd(),
		putCmd(),
		deleteCmd(),
		purgeCmd(),
		listCmd(),
		searchCmd(),
		queueLenCmd(),
		watchCmd(),
		versionCmd(),
	)
	return root
}

func init() {
	cobra.OnInitialize(config.Init)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
