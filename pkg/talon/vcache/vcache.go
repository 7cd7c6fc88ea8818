// Package vcache caches scan verdicts in a Badger database so repeat
// scans can skip files that have not changed since they were last seen
// clean. A cached verdict is only valid while the file's size and
// modification time both match.
package vcache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/talonsec/talon/pkg/talon/types"
)

// Version is bumped when the entry format changes; it is folded into
// the key prefix so stale formats simply miss.
const Version = 1

// ErrNotFound is returned when no entry exists for a path.
var ErrNotFound = errors.New("verdict cache entry not found")

// Entry is one cached verdict.
type Entry struct {
	Size   int64
	Mtime  int64 // UnixNano
	State  types.VerdictState
	Threat string
}

// Verdict rebuilds the verdict this entry recorded.
func (e *Entry) Verdict() types.Verdict {
	return types.Verdict{State: e.State, Threat: e.Threat}
}

// encode serializes the entry using gob.
func (e *Entry) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode deserializes bytes into the entry.
func (e *Entry) decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

// makeKey builds the versioned cache key for a path.
func makeKey(path string) []byte {
	return fmt.Appendf(nil, "v%d\x00%s", Version, path)
}

// Cache is a Badger-backed verdict store. Safe for concurrent use.
type Cache struct {
	db *badger.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logging is noise here

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening verdict cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get retrieves the cached entry for a path.
func (c *Cache) Get(path string) (*Entry, error) {
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(entry.decode)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put stores a verdict for a path.
func (c *Cache) Put(path string, entry *Entry) error {
	value, err := entry.encode()
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(path), value)
	})
}

// Lookup returns the cached verdict for path if the file's current
// metadata still matches the entry. Failed verdicts are never served
// from cache; a transient failure should be retried on the next run.
func (c *Cache) Lookup(path string, info os.FileInfo) (types.Verdict, bool) {
	if c == nil {
		return types.Verdict{}, false
	}
	entry, err := c.Get(path)
	if err != nil {
		return types.Verdict{}, false
	}
	if entry.State == types.Failed {
		return types.Verdict{}, false
	}
	if entry.Size != info.Size() || entry.Mtime != info.ModTime().UnixNano() {
		return types.Verdict{}, false
	}
	return entry.Verdict(), true
}

// Record stores the verdict observed for a file's current metadata.
func (c *Cache) Record(path string, info os.FileInfo, v types.Verdict) error {
	if c == nil {
		return nil
	}
	return c.Put(path, &Entry{
		Size:   info.Size(),
		Mtime:  info.ModTime().UnixNano(),
		State:  v.State,
		Threat: v.Threat,
	})
}
