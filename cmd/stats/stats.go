package stats

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/datastore"
)

// Command creates the stats command for summarizing the index.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show fingerprint index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, settings)
		},
	}

	return cmd
}

func runStats(cmd *cobra.Command, settings *conf.Settings) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no index backend enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.Counts(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("sources:      %d\n", counts.Sources)
	fmt.Printf("occurrences:  %d\n", counts.Occurrences)
	fmt.Printf("hash stats:   %d\n", counts.HashStats)

	statuses := make([]string, 0, len(counts.SourcesByState))
	for status := range counts.SourcesByState {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Printf("  %-14s %d\n", status, counts.SourcesByState[status])
	}
	return nil
}
