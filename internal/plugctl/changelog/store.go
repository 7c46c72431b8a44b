package changelog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	bolt "go.etcd.io/bbolt"
)

// Entry stores a cached changelog body and its validators.
type Entry struct {
	PluginID     string    `json:"plugin_id"`
	URL          string    `json:"url"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"last_modified"`
	FetchedAt    time.Time `json:"fetched_at"`
	Body         []byte    `json:"body"`
}

// cacheKey generates a stable cache key for a plugin and URL.
func cacheKey(pluginID, url string) []byte {
	sum := sha256.Sum256([]byte(pluginID + "\n" + url))
	return []byte(hex.EncodeToString(sum[:]))
}

// store is a lazily opened bbolt file holding changelog entries.
type store struct {
	mu      sync.Mutex
	path    string
	timeout time.Duration
	db      *bolt.DB
}

func newStore(dir string, timeout time.Duration) *store {
	return &store{
		path:    filepath.Join(dir, helpers.ChangelogCacheDB),
		timeout: timeout,
	}
}

// open returns the database handle, opening it on first use.
func (s *store) open() (*bolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	if err := fsutil.EnsureDir(filepath.Dir(s.path)); err != nil {
		return nil, err
	}
	db, err := bolt.Open(s.path, helpers.FileMod, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return nil, fmt.Errorf("open changelog cache %s: %w", s.path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(helpers.ChangelogBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func (s *store) get(pluginID, url string) (Entry, bool, error) {
	db, err := s.open()
	if err != nil {
		return Entry{}, false, err
	}
	var (
		entry Entry
		found bool
	)
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(helpers.ChangelogBucket))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get(cacheKey(pluginID, url))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("decode changelog entry: %w", err)
		}
		found = entry.URL == url && len(entry.Body) > 0
		return nil
	})
	return entry, found, err
}

func (s *store) put(entry Entry) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(helpers.ChangelogBucket))
		if err != nil {
			return err
		}
		return bucket.Put(cacheKey(entry.PluginID, entry.URL), data)
	})
}

func (s *store) purge() (int, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}
	removed := 0
	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(helpers.ChangelogBucket))
		if bucket == nil {
			return nil
		}
		removed = bucket.Stats().KeyN
		if err := tx.DeleteBucket([]byte(helpers.ChangelogBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(helpers.ChangelogBucket))
		return err
	})
	return removed, err
}

func (s *store) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
