package add

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/sonicgen/sonicgen/internal/audiofile"
	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/datastore"
)

// Command creates the add command for registering sources in the index.
func Command(settings *conf.Settings) *cobra.Command {
	var externalID, title string

	cmd := &cobra.Command{
		Use:   "add [audio.wav]",
		Short: "Register an audio source for fingerprinting",
		Long: `Register an audio file as an unclaimed source. The file is probed for
its duration but not fingerprinted; a later process run picks it up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, settings, args[0], externalID, title)
		},
	}

	cmd.Flags().StringVar(&externalID, "id", "", "External id of the source, defaults to the file name without extension")
	cmd.Flags().StringVar(&title, "title", "", "Human readable title")

	return cmd
}

func runAdd(cmd *cobra.Command, settings *conf.Settings, path, externalID, title string) error {
	info, err := audiofile.ReadInfo(path)
	if err != nil {
		return fmt.Errorf("probing %s: %w", path, err)
	}

	if externalID == "" {
		base := filepath.Base(path)
		externalID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no index backend enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	source := &datastore.Source{
		ID:         uuid.New().String(),
		ExternalID: externalID,
		Title:      title,
		DurationMs: info.DurationMs(),
		Status:     datastore.StatusUnclaimed,
	}
	if err := store.AddSource(cmd.Context(), source); err != nil {
		return err
	}

	fmt.Printf("registered source %s (external id %s, %d ms)\n",
		source.ID, source.ExternalID, source.DurationMs)
	return nil
}
