package delta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"lsfleet-agent/internal/model"
)

var (
	cpuBucket  = []byte("cpu")
	prevRecord = []byte("prev")
)

// BoltStorage keeps the snapshot in a bbolt database.
type BoltStorage struct {
	db *bolt.DB
}

func OpenBoltStorage(path string) (*BoltStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("bolt state backend requires a path")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cpuBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

func (b *BoltStorage) Load(context.Context) (model.CounterSnapshot, error) {
	snap := model.CounterSnapshot{}
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(cpuBucket).Get(prevRecord)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &snap)
	})
	if err != nil {
		return nil, fmt.Errorf("load cpu snapshot: %w", err)
	}
	return snap, nil
}

func (b *BoltStorage) Save(_ context.Context, snap model.CounterSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cpuBucket).Put(prevRecord, raw)
	})
}

func (b *BoltStorage) Close() error {
	return b.db.Close()
}
