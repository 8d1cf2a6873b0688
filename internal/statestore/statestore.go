// Package statestore implements the StateStoreProvider (spec.md §4.2, §6.3):
// keyed byte-blob persistence for plugin runtime state, shared across all
// plugins in an instance. spec.md names REDB as the reference backend and
// leaves it external to the core ("consumed via a trait"); no REDB binding
// exists for Go, so this package uses github.com/boltdb/bolt — a
// single-file, embedded, ACID key/value store, the closest Go-ecosystem
// analog (see storj-storj's use of the same library for its own embedded
// metadata store).
package statestore

import (
	"time"

	"github.com/boltdb/bolt"

	"github.com/drasi-project/drasi-server/internal/apierrors"
)

// bucketName is the single bucket every namespace is stored under,
// prefixed by namespace so one file can back every plugin's keyspace
// without collisions.
var bucketName = []byte("drasi-state")

// Provider is the StateStoreProvider capability set. Plugins must not
// assume single-threaded access (spec.md §5); bolt.DB already serializes
// writes internally, and reads run in parallel snapshot transactions.
type Provider interface {
	Get(namespace, key string) ([]byte, bool, error)
	Put(namespace, key string, value []byte) error
	Delete(namespace, key string) error
	Close() error
}

// boltProvider is the redb-kind implementation.
type boltProvider struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) the state store file at path.
func OpenBolt(path string) (Provider, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apierrors.OperationFailed("state-store", path, "open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, apierrors.OperationFailed("state-store", path, "init", err)
	}
	return &boltProvider{db: db}, nil
}

func namespacedKey(namespace, key string) []byte {
	return []byte(namespace + "/" + key)
}

func (p *boltProvider) Get(namespace, key string) ([]byte, bool, error) {
	var out []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get(namespacedKey(namespace, key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, apierrors.OperationFailed("state-store", namespace, "get", err)
	}
	return out, out != nil, nil
}

func (p *boltProvider) Put(namespace, key string, value []byte) error {
	err := p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put(namespacedKey(namespace, key), value)
	})
	if err != nil {
		return apierrors.OperationFailed("state-store", namespace, "put", err)
	}
	return nil
}

func (p *boltProvider) Delete(namespace, key string) error {
	err := p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Delete(namespacedKey(namespace, key))
	})
	if err != nil {
		return apierrors.OperationFailed("state-store", namespace, "delete", err)
	}
	return nil
}

func (p *boltProvider) Close() error {
	return p.db.Close()
}
