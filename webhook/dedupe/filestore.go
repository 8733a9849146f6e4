package dedupe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

/* FileStore is a file-backed NonceStore shared between processes
 * The CLI and the background service read the same cache file, so every
 * mutation is serialized through a named-file lock next to the cache file
 * A corrupt or missing cache file is treated as an empty cache: losing
 * nonce history is bounded by the TTL window, while failing closed would
 * take webhook processing down with it
 */
type FileStore struct {
	path string
	lock *flock.Flock
}

// cacheFile is the on-disk layout of the nonce cache
type cacheFile struct {
	Nonces      map[string]nonceEntry `json:"nonces"`
	LastCleanup time.Time             `json:"last_cleanup"`
}

type nonceEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// NewFileStore creates a file-backed nonce store at the given path.
// The parent directory is created if missing; failure to create it is
// fatal because nothing downstream can mitigate an unwritable cache dir.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// IsProcessed reports whether the nonce is marked and unexpired.
// An expired entry it encounters is evicted immediately rather than
// waiting for the next cleanup pass.
func (s *FileStore) IsProcessed(ctx context.Context, nonce string) (bool, error) {
	if err := s.acquire(ctx); err != nil {
		return false, err
	}
	defer s.lock.Unlock()

	cache := s.load()
	entry, ok := cache.Nonces[nonce]
	if !ok {
		return false, nil
	}

	if !entry.ExpiresAt.After(time.Now()) {
		delete(cache.Nonces, nonce)
		if err := s.save(cache); err != nil {
			return false, fmt.Errorf("evicting expired nonce: %w", err)
		}
		return false, nil
	}

	return true, nil
}

// MarkProcessed records the nonce with the given TTL
func (s *FileStore) MarkProcessed(ctx context.Context, nonce string, ttl time.Duration) error {
	if nonce == "" {
		return fmt.Errorf("nonce cannot be empty")
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	cache := s.load()
	cache.Nonces[nonce] = nonceEntry{ExpiresAt: time.Now().Add(ttl)}

	if err := s.save(cache); err != nil {
		return fmt.Errorf("marking nonce processed: %w", err)
	}
	return nil
}

// Cleanup removes all expired entries in a single locked pass
func (s *FileStore) Cleanup(ctx context.Context) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.lock.Unlock()

	cache := s.load()
	now := time.Now()
	removed := 0
	for nonce, entry := range cache.Nonces {
		if !entry.ExpiresAt.After(now) {
			delete(cache.Nonces, nonce)
			removed++
		}
	}

	cache.LastCleanup = now
	if err := s.save(cache); err != nil {
		return 0, fmt.Errorf("writing cleaned cache: %w", err)
	}
	return removed, nil
}

// acquire takes the exclusive file lock, honoring context cancellation
func (s *FileStore) acquire(ctx context.Context) error {
	ok, err := s.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring cache lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("cache lock not acquired")
	}
	return nil
}

// load reads the cache file under the held lock.
// Corruption and absence both yield an empty cache.
func (s *FileStore) load() cacheFile {
	cache := cacheFile{Nonces: make(map[string]nonceEntry)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return cache
	}
	if err := json.Unmarshal(data, &cache); err != nil {
		return cacheFile{Nonces: make(map[string]nonceEntry)}
	}
	if cache.Nonces == nil {
		cache.Nonces = make(map[string]nonceEntry)
	}
	return cache
}

// save writes the cache atomically via a temp file rename
func (s *FileStore) save(cache cacheFile) error {
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}
