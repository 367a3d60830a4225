package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sonicgen/sonicgen/internal/datastore"
	"github.com/sonicgen/sonicgen/internal/errors"
)

// Fetcher resolves a claimed source to a local audio file the decoder can
// read. Implementations may download; the returned path must stay readable
// until processing of the source finishes.
type Fetcher interface {
	Fetch(ctx context.Context, source *datastore.Source) (string, error)
}

// DirectoryFetcher serves audio from a local directory, keyed by the
// source's external id.
type DirectoryFetcher struct {
	Dir string
}

// Fetch returns the path of the source's audio blob. It tries the external
// id with common extensions and fails with a file-io error when none exists.
func (f *DirectoryFetcher) Fetch(_ context.Context, source *datastore.Source) (string, error) {
	for _, ext := range []string{".wav", ".WAV", ""} {
		path := filepath.Join(f.Dir, source.ExternalID+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", errors.Newf("no audio blob for source %s in %s", source.ExternalID, f.Dir).
		Component("pipeline").
		Category(errors.CategoryFileIO).
		SourceContext(source.ID, "fetch").
		Build()
}
