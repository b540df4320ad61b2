package ledger

import "voting-ledger/models"

// Sealer finalizes a block before it is appended to the chain.
type Sealer interface {
	Seal(block *models.Block)
}

// ProofOfWork seals a block by searching for a nonce whose hash has
// Difficulty leading zero hex digits.
type ProofOfWork struct {
	Difficulty int
}

func (p ProofOfWork) Seal(block *models.Block) {
	block.Mine(p.Difficulty)
}

// SealPolicy decides when admitted votes are sealed into a block.
type SealPolicy interface {
	ShouldSeal(pending int) bool
}

// SealEveryVote seals one block per admitted vote.
type SealEveryVote struct{}

func (SealEveryVote) ShouldSeal(pending int) bool {
	return pending > 0
}

// SealBatch seals once Size votes are pending. Pending votes are visible to
// every query but are only durable once sealed.
type SealBatch struct {
	Size int
}

func (b SealBatch) ShouldSeal(pending int) bool {
	size := b.Size
	if size < 1 {
		size = 1
	}
	return pending >= size
}
