package builder

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-paas/internal/core/domain"
	"github.com/melih/lighthouse-paas/internal/core/ports"
)

var _ ports.SourceFetcher = (*Fetcher)(nil)

// Fetcher populates bundle directories from git repositories.
type Fetcher struct {
	log *zap.Logger
}

// NewFetcher returns a git-backed source fetcher.
func NewFetcher(log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{log: log.Named("builder")}
}

// Fetch shallow-clones repoURL into dir. ref may name a branch or tag; empty
// means the remote's default branch.
func (f *Fetcher) Fetch(ctx context.Context, repoURL, ref, dir string) error {
	if err := ValidateRepoURL(repoURL); err != nil {
		return err
	}

	opts := &git.CloneOptions{
		URL:          repoURL,
		Depth:        1, // Shallow clone for speed
		SingleBranch: ref != "",
	}
	if ref != "" {
		opts.ReferenceName = referenceName(ref)
	}

	f.log.Info("cloning repository", zap.String("url", repoURL), zap.String("ref", ref), zap.String("dir", dir))
	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		return fmt.Errorf("%w: failed to clone repo: %v", domain.ErrIO, err)
	}
	return nil
}

// ValidateRepoURL accepts http(s), ssh and git remote URLs.
func ValidateRepoURL(repoURL string) error {
	if strings.HasPrefix(repoURL, "git@") {
		return nil
	}
	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: invalid repository url %q", domain.ErrInvalid, repoURL)
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return nil
	}
	return fmt.Errorf("%w: unsupported repository scheme %q", domain.ErrInvalid, u.Scheme)
}

func referenceName(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	if strings.HasPrefix(ref, "tags/") {
		return plumbing.NewTagReferenceName(strings.TrimPrefix(ref, "tags/"))
	}
	return plumbing.NewBranchReferenceName(ref)
}
