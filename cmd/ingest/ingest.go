package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/sonicgen/sonicgen/internal/audiofile"
	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/datastore"
	"github.com/sonicgen/sonicgen/internal/pipeline"
)

// Command creates the ingest command for storing one file unconditionally.
func Command(settings *conf.Settings) *cobra.Command {
	var externalID, title string

	cmd := &cobra.Command{
		Use:   "ingest [audio.wav]",
		Short: "Fingerprint a file and store it as a new canonical source",
		Long: `Fingerprint an audio file and store it in the index without consulting
the index for duplicates first. Use for sources known to be new originals;
the process command is the matching path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, settings, args[0], externalID, title)
		},
	}

	cmd.Flags().StringVar(&externalID, "id", "", "External id of the source, defaults to the file name without extension")
	cmd.Flags().StringVar(&title, "title", "", "Human readable title")

	return cmd
}

// pathFetcher serves exactly the file named on the command line.
type pathFetcher struct {
	path string
}

func (f pathFetcher) Fetch(context.Context, *datastore.Source) (string, error) {
	return f.path, nil
}

func runIngest(cmd *cobra.Command, settings *conf.Settings, path, externalID, title string) error {
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

	// The source is born pending: this command is its worker.
	source := datastore.Source{
		ID:         uuid.New().String(),
		ExternalID: externalID,
		Title:      title,
		DurationMs: info.DurationMs(),
		Status:     datastore.StatusPending,
	}
	if err := store.AddSource(cmd.Context(), &source); err != nil {
		return err
	}

	processor := pipeline.NewProcessor(settings, store, pathFetcher{path: path})
	result, err := processor.IngestSource(cmd.Context(), &source)
	if err != nil {
		return err
	}

	switch result.Status {
	case datastore.StatusTooShort:
		fmt.Printf("source %s too short to index (%d hashes)\n", source.ExternalID, result.Fingerprint)
	default:
		fmt.Printf("ingested source %s (%s): %d hashes, %d rows\n",
			source.ExternalID, source.ID, result.Fingerprint, result.Inserted)
	}
	return nil
}
