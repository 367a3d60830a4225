package remove

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/datastore"
)

// Command creates the remove command for deleting sources from the index.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove [external-id]",
		Short: "Delete a source and its fingerprint from the index",
		Long: `Delete a source, its occurrence rows and their aggregate contributions.
Sources that were matched against the removed one are unlinked, not deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, settings, args[0])
		},
	}

	return cmd
}

func runRemove(cmd *cobra.Command, settings *conf.Settings, externalID string) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no index backend enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	source, err := store.GetSourceByExternalID(cmd.Context(), externalID)
	if err != nil {
		return err
	}
	if err := store.DeleteSource(cmd.Context(), source.ID); err != nil {
		return err
	}

	fmt.Printf("removed source %s (%s)\n", source.ExternalID, source.ID)
	return nil
}
