package process

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/datastore"
	"github.com/sonicgen/sonicgen/internal/pipeline"
)

// Command creates the process command that drains the unclaimed backlog.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Fingerprint and match all unclaimed sources",
		Long: `Claim unclaimed sources longest first and run each through the
pipeline: decode, fingerprint, match against the index, then either link the
source to the original it duplicates or ingest it as a new canonical entry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, settings)
		},
	}

	cmd.Flags().IntVar(&settings.Ingest.Workers, "workers", settings.Ingest.Workers, "Number of processing workers")

	return cmd
}

func runProcess(cmd *cobra.Command, settings *conf.Settings) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no index backend enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	fetcher := &pipeline.DirectoryFetcher{Dir: settings.Audio.Path}
	dispatcher := pipeline.NewDispatcher(settings, store, fetcher)

	stats, err := dispatcher.Run(cmd.Context())
	if stats != nil {
		for status, n := range stats.ByStatus() {
			fmt.Printf("%-14s %d\n", status, n)
		}
		if failed := stats.Failed(); failed > 0 {
			fmt.Printf("%-14s %d\n", "errors", failed)
		}
	}
	return err
}
