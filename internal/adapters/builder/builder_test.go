package builder

import (
	"context"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"

	"github.com/melih/lighthouse-paas/internal/core/domain"
)

func TestValidateRepoURL(t *testing.T) {
	valid := []string{
		"https://github.com/example/service.git",
		"http://git.local/service",
		"ssh://git@github.com/example/service.git",
		"git@github.com:example/service.git",
	}
	for _, u := range valid {
		assert.NoError(t, ValidateRepoURL(u), u)
	}

	invalid := []string{
		"",
		"file:///etc",
		"/tmp/repo",
		"ftp://example.com/repo",
		"https://",
	}
	for _, u := range invalid {
		assert.ErrorIs(t, ValidateRepoURL(u), domain.ErrInvalid, u)
	}
}

func TestReferenceName(t *testing.T) {
	assert.Equal(t, plumbing.NewBranchReferenceName("main"), referenceName("main"))
	assert.Equal(t, plumbing.NewTagReferenceName("v1.2.0"), referenceName("tags/v1.2.0"))
	assert.Equal(t, plumbing.ReferenceName("refs/heads/dev"), referenceName("refs/heads/dev"))
}

func TestFetchRejectsLocalPaths(t *testing.T) {
	f := NewFetcher(nil)
	err := f.Fetch(context.Background(), "/etc", "", t.TempDir())
	assert.ErrorIs(t, err, domain.ErrInvalid)
}
