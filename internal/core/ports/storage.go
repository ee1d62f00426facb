package ports

import (
	"context"
	"io"

	"github.com/melih/lighthouse-paas/internal/core/domain"
)

// BundleStore persists uploaded bundles.
type BundleStore interface {
	Upload(name, description string, files []domain.UploadFile) (*domain.Bundle, error)
	Import(ctx context.Context, name, description string, populate func(ctx context.Context, dir string) error) (*domain.Bundle, error)
	List() ([]domain.Bundle, error)
	// Open returns the content and size of one file of a bundle.
	Open(folder, filename string) (io.ReadCloser, int64, error)
	// BuildContext returns the bundle directory once it is known to hold a
	// build file.
	BuildContext(folder string) (string, error)
}
