// Package storage persists ledger blocks.
package storage

import (
	"errors"
	"fmt"

	"voting-ledger/models"
)

var (
	// ErrHeightMismatch is returned when a block is saved out of sequence.
	ErrHeightMismatch = errors.New("block height out of sequence")

	ErrEmptyChain = errors.New("cannot save empty chain")
)

// BlockStore is the durable sink for sealed blocks. SaveBlock must complete
// before the ledger appends the block in memory.
type BlockStore interface {
	SaveBlock(height int, block *models.Block) error
	LoadChain() ([]*models.Block, error)
	Close() error
}

func checkHeight(want, got int) error {
	if want != got {
		return fmt.Errorf("%w: expected height %d, got %d", ErrHeightMismatch, want, got)
	}
	return nil
}
