// Package storage keeps uploaded bundles on the local filesystem, one
// directory per bundle under an upload root.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/melih/lighthouse-paas/internal/core/domain"
	"github.com/melih/lighthouse-paas/internal/core/ports"
)

const timestampLayout = "20060102150405"

var bundleName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

var _ ports.BundleStore = (*Store)(nil)

// Store implements ports.BundleStore on a directory tree.
type Store struct {
	root string
	now  func() time.Time
	log  *zap.Logger
}

// NewStore creates the upload root if needed.
func NewStore(root string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create upload dir: %v", domain.ErrIO, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve upload dir: %v", domain.ErrIO, err)
	}
	return &Store{root: abs, now: time.Now, log: log.Named("storage")}, nil
}

// Root returns the absolute upload root.
func (s *Store) Root() string { return s.root }

// Upload writes files into a new bundle folder named {name}_{UTC timestamp}.
// On failure the folder is removed again.
func (s *Store) Upload(name, description string, files []domain.UploadFile) (*domain.Bundle, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", domain.ErrInvalid)
	}
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if err := validateFilename(f.Name); err != nil {
			return nil, err
		}
		if f.Name == domain.MetadataFile {
			return nil, fmt.Errorf("%w: %q is reserved", domain.ErrInvalid, f.Name)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: duplicate file %q", domain.ErrInvalid, f.Name)
		}
		seen[f.Name] = true
	}

	folder, dir, err := s.createFolder(name)
	if err != nil {
		return nil, err
	}

	saved := make([]string, 0, len(files))
	for _, f := range files {
		if err := writeFile(filepath.Join(dir, f.Name), f.Content); err != nil {
			s.rollback(dir)
			return nil, fmt.Errorf("%w: write %s: %v", domain.ErrIO, f.Name, err)
		}
		saved = append(saved, f.Name)
	}

	meta := domain.Metadata{Name: name, Description: description, Files: saved}
	if err := writeMetadata(dir, meta); err != nil {
		s.rollback(dir)
		return nil, err
	}

	s.log.Info("bundle uploaded", zap.String("folder", folder), zap.Int("files", len(saved)))
	return &domain.Bundle{Metadata: meta, Folder: folder}, nil
}

// Import creates a bundle folder and lets populate fill it, for example with a
// repository checkout. The file list records the top-level entries.
func (s *Store) Import(ctx context.Context, name, description string, populate func(ctx context.Context, dir string) error) (*domain.Bundle, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	folder, dir, err := s.createFolder(name)
	if err != nil {
		return nil, err
	}

	if err := populate(ctx, dir); err != nil {
		s.rollback(dir)
		return nil, err
	}
	if err := os.RemoveAll(filepath.Join(dir, ".git")); err != nil {
		s.rollback(dir)
		return nil, fmt.Errorf("%w: remove .git: %v", domain.ErrIO, err)
	}

	files, err := listFiles(dir)
	if err != nil {
		s.rollback(dir)
		return nil, err
	}
	meta := domain.Metadata{Name: name, Description: description, Files: files}
	if err := writeMetadata(dir, meta); err != nil {
		s.rollback(dir)
		return nil, err
	}

	s.log.Info("bundle imported", zap.String("folder", folder), zap.Int("files", len(files)))
	return &domain.Bundle{Metadata: meta, Folder: folder}, nil
}

// List returns every bundle under the root, ordered by folder id.
func (s *Store) List() ([]domain.Bundle, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.Bundle{}, nil
		}
		return nil, fmt.Errorf("%w: read upload dir: %v", domain.ErrIO, err)
	}

	bundles := make([]domain.Bundle, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.metadata(e.Name())
		if err != nil {
			s.log.Warn("skipping unreadable bundle", zap.String("folder", e.Name()), zap.Error(err))
			continue
		}
		bundles = append(bundles, domain.Bundle{Metadata: meta, Folder: e.Name()})
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].Folder < bundles[j].Folder })
	return bundles, nil
}

// metadata reads the record of folder, or reconstructs it from the folder
// name and directory listing when the record is missing or unreadable.
func (s *Store) metadata(folder string) (domain.Metadata, error) {
	dir := filepath.Join(s.root, folder)
	raw, err := os.ReadFile(filepath.Join(dir, domain.MetadataFile))
	if err == nil {
		var meta domain.Metadata
		if err := json.Unmarshal(raw, &meta); err == nil {
			if meta.Files == nil {
				meta.Files = []string{}
			}
			return meta, nil
		}
		s.log.Warn("invalid metadata record, falling back to directory listing", zap.String("folder", folder))
	} else if !errors.Is(err, os.ErrNotExist) {
		return domain.Metadata{}, fmt.Errorf("%w: read metadata: %v", domain.ErrIO, err)
	}

	files, err := listFiles(dir)
	if err != nil {
		return domain.Metadata{}, err
	}
	return domain.Metadata{Name: nameFromFolder(folder), Description: "", Files: files}, nil
}

// Open returns the content of folder/filename. Anything that is not a
// regular file directly inside the bundle folder is reported as not found.
func (s *Store) Open(folder, filename string) (io.ReadCloser, int64, error) {
	path, err := s.resolve(folder, filename)
	if err != nil {
		return nil, 0, err
	}
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, 0, fmt.Errorf("%w: file not found", domain.ErrNotFound)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: file not found", domain.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("%w: open %s: %v", domain.ErrIO, filename, err)
	}
	return f, info.Size(), nil
}

// BuildContext returns the bundle directory once it holds a Dockerfile.
func (s *Store) BuildContext(folder string) (string, error) {
	path, err := s.resolve(folder, domain.BuildFile)
	if err != nil {
		return "", fmt.Errorf("%w: Dockerfile not found", domain.ErrNotFound)
	}
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: Dockerfile not found", domain.ErrNotFound)
	}
	return filepath.Dir(path), nil
}

// resolve joins root/folder/filename after checking both are plain names and
// that the result stays inside the bundle folder.
func (s *Store) resolve(folder, filename string) (string, error) {
	if validateFilename(folder) != nil || validateFilename(filename) != nil {
		return "", fmt.Errorf("%w: file not found", domain.ErrNotFound)
	}
	dir := filepath.Join(s.root, folder)
	path := filepath.Join(dir, filename)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel != filename || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: file not found", domain.ErrNotFound)
	}
	return path, nil
}

// createFolder makes a new, empty bundle folder. Names that collide within
// the same second get a -N suffix.
func (s *Store) createFolder(name string) (string, string, error) {
	base := name + "_" + s.now().UTC().Format(timestampLayout)
	for n := 1; n < 1000; n++ {
		folder := base
		if n > 1 {
			folder = base + "-" + strconv.Itoa(n)
		}
		dir := filepath.Join(s.root, folder)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return folder, dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("%w: create bundle dir: %v", domain.ErrIO, err)
		}
	}
	return "", "", fmt.Errorf("%w: too many bundles named %q in one second", domain.ErrIO, name)
}

func (s *Store) rollback(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		s.log.Error("failed to remove partial bundle", zap.String("dir", dir), zap.Error(err))
	}
}

func writeFile(path string, content io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeMetadata writes the record through a temp file and rename so readers
// never see a half-written record.
func writeMetadata(dir string, meta domain.Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", domain.ErrIO, err)
	}
	tmp, err := os.CreateTemp(dir, ".metadata-*")
	if err != nil {
		return fmt.Errorf("%w: write metadata: %v", domain.ErrIO, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write metadata: %v", domain.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write metadata: %v", domain.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, domain.MetadataFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write metadata: %v", domain.ErrIO, err)
	}
	return nil
}

// listFiles returns the directory entries of dir except the metadata record.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list bundle: %v", domain.ErrIO, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() == domain.MetadataFile {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}

func nameFromFolder(folder string) string {
	if i := strings.LastIndex(folder, "_"); i >= 0 {
		return folder[:i]
	}
	return folder
}

func validateName(name string) error {
	if !bundleName.MatchString(name) {
		return fmt.Errorf("%w: name must match %s", domain.ErrInvalid, bundleName.String())
	}
	return nil
}

// validateFilename accepts plain base names only.
func validateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: invalid filename %q", domain.ErrInvalid, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: filename %q must not contain path separators", domain.ErrInvalid, name)
	}
	return nil
}
