package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"energy_prices/internal/model"
	"energy_prices/internal/store"
)

// ErrArtifactNotFound is returned by ArtifactStore.Load on a cache miss.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore persists the CSV bytes of one cached year.
type ArtifactStore interface {
	Load(ctx context.Context, key store.Key) ([]byte, error)
	Save(ctx context.Context, key store.Key, data []byte) error
	Delete(ctx context.Context, key store.Key) error
}

// FileStore keeps artifacts as CSV files in one directory.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// ArtifactName is the file name of a cached year, e.g. DA_prices_NL_2023.csv.
func ArtifactName(key store.Key) string {
	prefix := string(key.Kind)
	if info, ok := model.KindCatalog[key.Kind]; ok {
		prefix = info.Prefix
	}
	return fmt.Sprintf("%s_prices_%s_%d.csv", prefix, key.Country, key.Year)
}

func (fs *FileStore) Path(key store.Key) string {
	return filepath.Join(fs.Dir, ArtifactName(key))
}

func (fs *FileStore) Load(_ context.Context, key store.Key) ([]byte, error) {
	data, err := os.ReadFile(fs.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fs.Path(key), err)
	}
	return data, nil
}

// Save writes to a temp file in the same directory and renames it into
// place, so readers never see a partial artifact.
func (fs *FileStore) Save(_ context.Context, key store.Key, data []byte) error {
	tmp, err := os.CreateTemp(fs.Dir, ArtifactName(key)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), fs.Path(key)); err != nil {
		return fmt.Errorf("renaming to %s: %w", fs.Path(key), err)
	}
	return nil
}

func (fs *FileStore) Delete(_ context.Context, key store.Key) error {
	err := os.Remove(fs.Path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", fs.Path(key), err)
	}
	return nil
}
