// Package configstore provides the one concrete interfaces.ConfigStore the
// device process uses: a flat directory of files, one per settings key,
// written atomically. The write path (write to a temp file in the target
// directory, then os.Rename into place) is lifted from
// vire/internal/storage/marketfs/store.go, which uses the same pattern to
// persist its JSON snapshots without ever leaving a half-written file
// behind for a concurrent reader to observe.
package configstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/weave-iot/libweave/internal/common"
	"github.com/weave-iot/libweave/internal/interfaces"
)

// Store is a directory-backed interfaces.ConfigStore.
type Store struct {
	dir    string
	logger *common.Logger

	mu sync.Mutex
}

// New creates a Store rooted at dir, creating dir if it does not exist.
func New(dir string, logger *common.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("configstore: create dir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// LoadSettings returns the contents stored under key, or "" if key has
// never been saved.
func (s *Store) LoadSettings(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("configstore: load %s: %w", key, err)
	}
	return string(data), nil
}

// SaveSettings persists value under key. done is always invoked before
// SaveSettings returns; it is accepted as a parameter (rather than simply
// returning an error) to satisfy interfaces.ConfigStore, whose other
// implementations may genuinely complete asynchronously.
func (s *Store) SaveSettings(ctx context.Context, key, value string, done interfaces.DoneFunc) {
	err := s.save(ctx, key, value)
	if err != nil && s.logger != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to persist settings")
	}
	if done != nil {
		done(err)
	}
}

func (s *Store) save(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("configstore: create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("configstore: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("configstore: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("configstore: rename %s: %w", key, err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
