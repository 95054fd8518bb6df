// Package metastore is the sidecar key/value store backing disk metadata on
// hosts whose image formats have no native metadata region.
//
// Records are namespaced by a volume key (for the libvirt backend,
// "<pool>/<volume>"), so a store can be shared by every disk in a pool.
package metastore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("metastore: record not found")

// Identity fields kept for each volume.
const (
	FieldIdentifier    = "identifier"
	FieldVirtualDiskID = "virtual-disk-id"
)

// Key namespace:
//
//	m:<volume>\x00<16 byte uuid>  metadata blob
//	i:<volume>\x00<field>         identity uuid (16 bytes)
const (
	prefixMetadata = "m:"
	prefixIdentity = "i:"
	sep            = 0
)

// Config configures Open.
type Config struct {
	// Path is the directory holding the badger files.
	Path string
	// InMemory keeps everything in memory; Path is ignored.
	InMemory bool
}

// Store is a badger-backed metadata sidecar. It is safe for concurrent use.
type Store struct {
	db  *badger.DB
	log *logrus.Entry
}

// Open opens (or creates) the store described by cfg.
func Open(ctx context.Context, cfg Config, log *logrus.Entry) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "metastore")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("metastore: path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithLogger(log).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store at %s: %w", cfg.Path, err)
	}

	log.WithField("path", cfg.Path).Debug("metadata store opened")
	return &Store{db: db, log: log}, nil
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close metadata store: %w", err)
	}
	return nil
}

func volumePrefix(prefix, volume string) []byte {
	b := make([]byte, 0, len(prefix)+len(volume)+1)
	b = append(b, prefix...)
	b = append(b, volume...)
	return append(b, sep)
}

func metadataKey(volume string, key uuid.UUID) []byte {
	return append(volumePrefix(prefixMetadata, volume), key[:]...)
}

func identityKey(volume, field string) []byte {
	return append(volumePrefix(prefixIdentity, volume), field...)
}

// Set stores data under key for volume, replacing any previous value.
func (s *Store) Set(volume string, key uuid.UUID, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metadataKey(volume, key), bytes.Clone(data))
	})
}

// Get returns the blob stored under key for volume.
func (s *Store) Get(volume string, key uuid.UUID) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metadataKey(volume, key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes the blob stored under key for volume. It returns
// ErrNotFound if there was none.
func (s *Store) Delete(volume string, key uuid.UUID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		k := metadataKey(volume, key)
		if _, err := txn.Get(k); err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(k)
	})
}

// Keys returns the metadata keys stored for volume in key order.
func (s *Store) Keys(volume string) ([]uuid.UUID, error) {
	keys := []uuid.UUID{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := volumePrefix(prefixMetadata, volume)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := it.Item().Key()[len(prefix):]
			id, err := uuid.FromBytes(raw)
			if err != nil {
				return fmt.Errorf("corrupt metadata key for %s: %w", volume, err)
			}
			keys = append(keys, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// SetIdentity records an identity uuid (see FieldIdentifier) for volume.
func (s *Store) SetIdentity(volume, field string, id uuid.UUID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(identityKey(volume, field), id[:])
	})
}

// Identity returns the identity uuid recorded for volume, or ErrNotFound.
func (s *Store) Identity(volume, field string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey(volume, field))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id, err = uuid.FromBytes(val)
			return err
		})
	})
	return id, err
}

// Copy duplicates every record of volume from under volume to. Records already
// present for to are overwritten.
func (s *Store) Copy(from, to string) error {
	if from == to {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range []string{prefixMetadata, prefixIdentity} {
			src := volumePrefix(prefix, from)
			dst := volumePrefix(prefix, to)

			var pending [][2][]byte
			it := txn.NewIterator(badger.IteratorOptions{Prefix: src, PrefetchValues: true, PrefetchSize: 16})
			for it.Seek(src); it.ValidForPrefix(src); it.Next() {
				item := it.Item()
				val, err := item.ValueCopy(nil)
				if err != nil {
					it.Close()
					return err
				}
				k := append(bytes.Clone(dst), item.Key()[len(src):]...)
				pending = append(pending, [2][]byte{k, val})
			}
			it.Close()

			for _, kv := range pending {
				if err := txn.Set(kv[0], kv[1]); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Drop removes every record of volume.
func (s *Store) Drop(volume string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range []string{prefixMetadata, prefixIdentity} {
			p := volumePrefix(prefix, volume)

			var keys [][]byte
			it := txn.NewIterator(badger.IteratorOptions{Prefix: p})
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()

			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
