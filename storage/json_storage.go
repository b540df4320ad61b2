package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"voting-ledger/models"
)

const chainFileName = "chain.json"

// Chain is the on-disk layout of a JSONStore.
type Chain struct {
	Blocks []*models.Block `json:"blocks"`
}

// JSONStore keeps the whole chain in a single JSON file, rewritten
// atomically on every block.
type JSONStore struct {
	basePath string
	mu       sync.RWMutex
	chain    *Chain
}

func NewJSONStore(basePath string) (*JSONStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	store := &JSONStore{basePath: basePath}

	chain, err := store.loadChainFromFile()
	if err != nil {
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}
	store.chain = chain

	return store, nil
}

func (s *JSONStore) SaveBlock(height int, block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkHeight(len(s.chain.Blocks), height); err != nil {
		return err
	}

	next := &Chain{Blocks: append(s.chain.Blocks[:len(s.chain.Blocks):len(s.chain.Blocks)], block.Clone())}
	if err := s.saveChainToFile(next); err != nil {
		return err
	}

	s.chain = next
	return nil
}

func (s *JSONStore) LoadChain() ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks := make([]*models.Block, len(s.chain.Blocks))
	for i, b := range s.chain.Blocks {
		blocks[i] = b.Clone()
	}
	return blocks, nil
}

func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) path() string {
	return filepath.Join(s.basePath, chainFileName)
}

func (s *JSONStore) loadChainFromFile() (*Chain, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &Chain{Blocks: make([]*models.Block, 0)}, nil
		}
		return nil, err
	}

	var chain Chain
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain: %w", err)
	}

	return &chain, nil
}

func (s *JSONStore) saveChainToFile(chain *Chain) error {
	data, err := json.MarshalIndent(chain, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %w", err)
	}

	// Write to temporary file first
	path := s.path()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write chain file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save chain file: %w", err)
	}

	return nil
}
