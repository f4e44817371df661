package storage

import (
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// DirStore keeps one file per key under a directory. Keys are path-escaped
// so any string is a valid key. Writes go through a temporary file and a
// rename, so a reader never observes a half-written value.
type DirStore struct {
	dir string
	mu  sync.RWMutex
}

// NewDirStore opens (creating if needed) a store rooted at dir.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating store directory %s", dir)
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the root directory.
func (d *DirStore) Dir() string { return d.dir }

func (d *DirStore) path(key string) string {
	return filepath.Join(d.dir, url.PathEscape(key))
}

func (d *DirStore) Get(key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(ErrKeyNotFound, key)
	}
	return b, errors.Wrapf(err, "reading %q", key)
}

func (d *DirStore) Put(key string, value []byte) error {
	if key == "" {
		return errors.New("empty key")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	tmp, err := os.CreateTemp(d.dir, ".put-*")
	if err != nil {
		return errors.Wrapf(err, "writing %q", key)
	}
	_, err = tmp.Write(value)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), d.path(key))
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "writing %q", key)
	}
	return nil
}

func (d *DirStore) Delete(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "deleting %q", key)
	}
	return nil
}

func (d *DirStore) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name()[0] == '.' {
			continue
		}
		if key, err := url.PathUnescape(e.Name()); err == nil {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

func (d *DirStore) Stats() StoreStats {
	var stats StoreStats
	for _, key := range d.List() {
		if info, err := os.Stat(d.path(key)); err == nil {
			stats.Keys++
			stats.Bytes += int(info.Size())
		}
	}
	return stats
}
