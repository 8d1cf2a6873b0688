// Package indexstore implements persisted query indexes (spec.md §6.3): one
// directory per instance when persistIndex=true, at
// ./data/<sanitized-id>/index, where sanitization maps "/", "\" and ".."
// to "_". spec.md names RocksDB as the reference backend and treats it as
// external; like internal/statestore, this package backs the directory with
// github.com/boltdb/bolt (one file inside the index directory), the
// corpus's embedded key/value store.
package indexstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boltdb/bolt"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
)

var bucketName = []byte("query-index")

// SanitizeID maps path-hostile characters in an instance id to "_" so the
// id can name a directory: "/", "\" and ".." each become "_".
func SanitizeID(id string) string {
	out := strings.ReplaceAll(id, "..", "_")
	out = strings.ReplaceAll(out, "/", "_")
	out = strings.ReplaceAll(out, `\`, "_")
	return out
}

// DirFor returns the index directory for instance id under baseDir,
// following spec.md §6.3's ./data/<sanitized-id>/index layout.
func DirFor(baseDir, id string) string {
	return filepath.Join(baseDir, SanitizeID(id), "index")
}

// Store persists per-query result-set snapshots across process restarts.
// Snapshots are keyed by element id so a restored index still resolves
// later updates and deletes against the right rows.
type Store interface {
	SaveSnapshot(queryID string, rows map[string]component.ResultRow) error
	LoadSnapshot(queryID string) (map[string]component.ResultRow, bool, error)
	Close() error
}

type boltStore struct {
	db *bolt.DB
}

// Open creates dir (and parents) if needed and opens the index file inside
// it.
func Open(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierrors.OperationFailed("index-store", dir, "mkdir", err)
	}
	path := filepath.Join(dir, "index.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apierrors.OperationFailed("index-store", path, "open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, apierrors.OperationFailed("index-store", path, "init", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) SaveSnapshot(queryID string, rows map[string]component.ResultRow) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return apierrors.OperationFailed("index-store", queryID, "marshal", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(queryID), payload)
	})
	if err != nil {
		return apierrors.OperationFailed("index-store", queryID, "save", err)
	}
	return nil
}

func (s *boltStore) LoadSnapshot(queryID string) (map[string]component.ResultRow, bool, error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(queryID))
		if v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, apierrors.OperationFailed("index-store", queryID, "load", err)
	}
	if payload == nil {
		return nil, false, nil
	}
	var rows map[string]component.ResultRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, false, apierrors.OperationFailed("index-store", queryID, "unmarshal", err)
	}
	return rows, true, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
