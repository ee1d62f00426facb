package ports

import "context"

// SourceFetcher defines operations for populating a bundle from source code.
type SourceFetcher interface {
	// Fetch clones repoURL (optionally at ref) into dir, which must exist and
	// be empty.
	Fetch(ctx context.Context, repoURL, ref, dir string) error
}
