// Package bolt is a single-node StateStore backed by an embedded bbolt file.
package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"
)

var (
	bucketTokens  = []byte("tokens")
	bucketTrades  = []byte("trades")
	bucketMeta    = []byte("meta")
	keyStats      = []byte("platform_stats")
	keyCheckpoint = []byte("ingestion_checkpoint")
	allBuckets    = [][]byte{bucketTokens, bucketTrades, bucketMeta}
	openTimeout   = time.Second
)

// DB wraps a bbolt database with the buckets the stores need.
type DB struct {
	*bbolt.DB
}

// Open opens or creates the database file at path and ensures the buckets exist.
func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db}, nil
}

func get[T any](b *bbolt.Bucket, key []byte) (*T, error) {
	raw := b.Get(key)
	if raw == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func put(b *bbolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put(key, raw)
}
