package storage

import (
	"sync"

	"voting-ledger/models"
)

// MemoryStore keeps blocks in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks []*models.Block
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveBlock(height int, block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkHeight(len(s.blocks), height); err != nil {
		return err
	}
	s.blocks = append(s.blocks, block.Clone())
	return nil
}

func (s *MemoryStore) LoadChain() ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks := make([]*models.Block, len(s.blocks))
	for i, b := range s.blocks {
		blocks[i] = b.Clone()
	}
	return blocks, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
