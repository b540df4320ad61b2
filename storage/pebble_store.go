package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"voting-ledger/models"
)

// blockPrefix namespaces block records. Heights are zero-padded so that
// lexicographic key order is chain order.
const blockPrefix = "b:"

// PebbleStore stores one key per block in a Pebble database.
// Writes are synced before SaveBlock returns.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(8 << 20), // 8 MB cache
		MemTableSize: 4 << 20,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}

	return &PebbleStore{db: db}, nil
}

func blockKey(height int) []byte {
	return []byte(fmt.Sprintf("%s%020d", blockPrefix, height))
}

func (s *PebbleStore) SaveBlock(height int, block *models.Block) error {
	next, err := s.height()
	if err != nil {
		return err
	}
	if err := checkHeight(next, height); err != nil {
		return err
	}

	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to marshal block %d: %w", height, err)
	}

	return s.db.Set(blockKey(height), data, pebble.Sync)
}

// height returns the number of stored blocks.
func (s *PebbleStore) height() (int, error) {
	n := 0
	err := s.iteratePrefix([]byte(blockPrefix), func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

func (s *PebbleStore) LoadChain() ([]*models.Block, error) {
	blocks := make([]*models.Block, 0)

	err := s.iteratePrefix([]byte(blockPrefix), func(key, value []byte) error {
		if want := string(blockKey(len(blocks))); string(key) != want {
			return fmt.Errorf("chain has a gap: expected key %s, found %s", want, key)
		}

		var block models.Block
		if err := json.Unmarshal(value, &block); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		blocks = append(blocks, &block)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return blocks, nil
}

// iteratePrefix calls fn for each key-value pair with the given prefix, in key order.
func (s *PebbleStore) iteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}

	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
