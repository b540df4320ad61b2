// Package ledger implements the hash-linked, proof-of-work sealed vote chain.
package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"voting-ledger/logger"
	"voting-ledger/models"
	"voting-ledger/storage"
)

const (
	DefaultDifficulty   = 2
	DefaultMiningReward = 100

	rewardPrefix = "Mining reward: "
)

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicateVote      = errors.New("voter has already voted for this position")
	ErrChainIntegrity     = errors.New("chain integrity violation")
)

type Options struct {
	Difficulty   int
	MiningReward int64

	// Store receives every sealed block before it is appended. Optional.
	Store storage.BlockStore

	// Sealer defaults to ProofOfWork at Difficulty. A ProofOfWork sealer
	// overrides Difficulty; any other sealer is reported at Difficulty.
	Sealer Sealer

	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Difficulty:   DefaultDifficulty,
		MiningReward: DefaultMiningReward,
	}
}

// Ledger owns the chain, the pending buffer and the registered voter set.
type Ledger struct {
	chain      []*models.Block
	pending    []models.Transaction
	registered map[string]struct{}

	difficulty int
	reward     int64
	store      storage.BlockStore
	sealer     Sealer
	now        func() time.Time

	mutex sync.RWMutex
}

// New creates a ledger. When opts.Store holds blocks, they replace the
// genesis block; otherwise a fresh genesis is created and persisted.
func New(opts Options) (*Ledger, error) {
	if opts.Difficulty < 0 {
		return nil, fmt.Errorf("difficulty must not be negative, got %d", opts.Difficulty)
	}
	if opts.MiningReward < 0 {
		return nil, fmt.Errorf("mining reward must not be negative, got %d", opts.MiningReward)
	}

	l := &Ledger{
		registered: make(map[string]struct{}),
		difficulty: opts.Difficulty,
		reward:     opts.MiningReward,
		store:      opts.Store,
		sealer:     opts.Sealer,
		now:        opts.Now,
	}
	switch sealer := l.sealer.(type) {
	case nil:
		l.sealer = ProofOfWork{Difficulty: opts.Difficulty}
	case ProofOfWork:
		l.difficulty = sealer.Difficulty
	case *ProofOfWork:
		l.difficulty = sealer.Difficulty
	}
	if l.difficulty < 0 {
		return nil, fmt.Errorf("difficulty must not be negative, got %d", l.difficulty)
	}
	if l.now == nil {
		l.now = time.Now
	}

	if l.store != nil {
		blocks, err := l.store.LoadChain()
		if err != nil {
			return nil, fmt.Errorf("failed to load chain: %w", err)
		}
		if len(blocks) > 0 {
			l.restore(blocks)
			return l, nil
		}
	}

	genesis := models.NewBlock(l.now().UnixMilli(), nil, models.GenesisPreviousHash)
	if l.store != nil {
		if err := l.store.SaveBlock(0, genesis); err != nil {
			return nil, fmt.Errorf("failed to save genesis block: %w", err)
		}
	}
	l.chain = []*models.Block{genesis}

	return l, nil
}

func (l *Ledger) restore(blocks []*models.Block) {
	l.chain = make([]*models.Block, len(blocks))
	for i, b := range blocks {
		l.chain[i] = b.Clone()
		for _, tx := range b.Transactions {
			if !tx.IsSystem() {
				l.registered[tx.VoterID] = struct{}{}
			}
		}
	}

	if err := l.validate(); err != nil {
		// Loaded anyway: validation reports tampering, it does not repair it.
		logger.Error("loaded chain failed validation", "blocks", len(l.chain), "err", err)
		return
	}
	logger.Info("loaded chain", "blocks", len(l.chain), "head", l.chain[len(l.chain)-1].Hash)
}

// AddTransaction admits a vote into the pending buffer. It fails without
// side effects if the transaction is malformed or if the voter already has a
// vote for the same position in the chain or the pending buffer.
func (l *Ledger) AddTransaction(tx models.Transaction) error {
	if tx.VoterID == "" || tx.VoteKey == "" {
		return fmt.Errorf("%w: voter id and vote are required", ErrInvalidTransaction)
	}
	if tx.IsSystem() {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTransaction, models.SystemVoterID)
	}
	if tx.Timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp", ErrInvalidTransaction)
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	position := tx.Position()
	if l.hasVotedInPosition(tx.VoterID, position) {
		return fmt.Errorf("%w: voter %s, position %s", ErrDuplicateVote, tx.VoterID, position)
	}

	if tx.Timestamp == 0 {
		tx.Timestamp = l.now().UnixMilli()
	}
	l.pending = append(l.pending, tx)
	logger.Debug("transaction admitted", "voter", tx.VoterID, "position", position, "pending", len(l.pending))

	return nil
}

// MinePendingTransactions seals the pending buffer plus a reward record into
// a new block. If the store rejects the block, chain and pending are left
// untouched.
func (l *Ledger) MinePendingTransactions(minerAddress string) (*models.Block, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now().UnixMilli()
	txs := make([]models.Transaction, 0, len(l.pending)+1)
	txs = append(txs, l.pending...)
	txs = append(txs, models.NewRewardTransaction(l.reward, now))

	height := len(l.chain)
	block := models.NewBlock(now, txs, l.chain[height-1].Hash)

	start := time.Now()
	l.sealer.Seal(block)
	elapsed := time.Since(start)

	if l.store != nil {
		if err := l.store.SaveBlock(height, block); err != nil {
			return nil, fmt.Errorf("failed to persist block %d: %w", height, err)
		}
	}

	l.chain = append(l.chain, block)
	l.pending = nil

	logger.Info("block sealed",
		"height", height,
		"hash", block.Hash,
		"nonce", block.Nonce,
		"txs", len(block.Transactions),
		"miner", minerAddress,
		"elapsed", elapsed,
	)

	return block.Clone(), nil
}

// DiscardPending removes tx from the pending buffer. It reports whether the
// transaction was found.
func (l *Ledger) DiscardPending(tx models.Transaction) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	for i := len(l.pending) - 1; i >= 0; i-- {
		if l.pending[i] == tx {
			l.pending = append(l.pending[:i:i], l.pending[i+1:]...)
			return true
		}
	}
	return false
}

// HasVoted reports whether voterID has any non-system transaction.
func (l *Ledger) HasVoted(voterID string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	found := false
	l.eachTransaction(func(tx models.Transaction) bool {
		if !tx.IsSystem() && tx.VoterID == voterID {
			found = true
			return false
		}
		return true
	})
	return found
}

func (l *Ledger) HasVotedInPosition(voterID, positionID string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.hasVotedInPosition(voterID, positionID)
}

func (l *Ledger) hasVotedInPosition(voterID, positionID string) bool {
	found := false
	l.eachTransaction(func(tx models.Transaction) bool {
		if !tx.IsSystem() && tx.VoterID == voterID && tx.Position() == positionID {
			found = true
			return false
		}
		return true
	})
	return found
}

// eachTransaction visits chain transactions in order, then pending ones,
// until fn returns false. Callers hold the lock.
func (l *Ledger) eachTransaction(fn func(tx models.Transaction) bool) {
	for _, block := range l.chain {
		for _, tx := range block.Transactions {
			if !fn(tx) {
				return
			}
		}
	}
	for _, tx := range l.pending {
		if !fn(tx) {
			return
		}
	}
}

// IsChainValid reports whether Validate finds no violation.
func (l *Ledger) IsChainValid() bool {
	return l.Validate() == nil
}

// Validate returns the first integrity violation, wrapped in ErrChainIntegrity.
// Proof-of-work difficulty is not re-checked: it may change between runs.
func (l *Ledger) Validate() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.validate()
}

func (l *Ledger) validate() error {
	return ValidateChain(l.chain)
}

// ValidateChain checks the genesis block, then every later block's
// transactions, recomputed hash and link to its predecessor. It returns the
// first violation found.
func ValidateChain(chain []*models.Block) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: chain is empty", ErrChainIntegrity)
	}

	genesis := chain[0]
	if genesis.PreviousHash != models.GenesisPreviousHash {
		return fmt.Errorf("%w: block 0: genesis previous hash is %q", ErrChainIntegrity, genesis.PreviousHash)
	}
	if genesis.Hash != genesis.CalculateHash() {
		return fmt.Errorf("%w: block 0: hash mismatch", ErrChainIntegrity)
	}

	for i := 1; i < len(chain); i++ {
		current := chain[i]
		previous := chain[i-1]

		if !current.HasValidTransactions() {
			return fmt.Errorf("%w: block %d: malformed transaction", ErrChainIntegrity, i)
		}
		if current.Hash != current.CalculateHash() {
			return fmt.Errorf("%w: block %d: hash mismatch", ErrChainIntegrity, i)
		}
		if current.PreviousHash != previous.Hash {
			return fmt.Errorf("%w: block %d: previous hash link broken", ErrChainIntegrity, i)
		}
	}

	return nil
}

// VoteCounts tallies non-system transactions by literal vote key.
func (l *Ledger) VoteCounts() map[string]int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	counts := make(map[string]int)
	l.eachTransaction(func(tx models.Transaction) bool {
		if !tx.IsSystem() {
			counts[tx.VoteKey]++
		}
		return true
	})
	return counts
}

// AllVotes returns every non-system transaction, chain order then pending order.
func (l *Ledger) AllVotes() []models.Transaction {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	var votes []models.Transaction
	l.eachTransaction(func(tx models.Transaction) bool {
		if !tx.IsSystem() {
			votes = append(votes, tx)
		}
		return true
	})
	return votes
}

// RegisterVoter records voterID as known. Registration is bookkeeping only
// and does not gate admission.
func (l *Ledger) RegisterVoter(voterID string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.registered[voterID] = struct{}{}
}

func (l *Ledger) IsVoterRegistered(voterID string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	_, ok := l.registered[voterID]
	return ok
}

// RewardBalance totals every reward minted into the chain.
func (l *Ledger) RewardBalance() int64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	var balance int64
	for _, block := range l.chain {
		for _, tx := range block.Transactions {
			if !tx.IsSystem() {
				continue
			}
			amount, ok := strings.CutPrefix(tx.VoteKey, rewardPrefix)
			if !ok {
				continue
			}
			if n, err := strconv.ParseInt(amount, 10, 64); err == nil {
				balance += n
			}
		}
	}
	return balance
}

// Blocks returns a deep copy of the chain.
func (l *Ledger) Blocks() []*models.Block {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	blocks := make([]*models.Block, len(l.chain))
	for i, b := range l.chain {
		blocks[i] = b.Clone()
	}
	return blocks
}

func (l *Ledger) LatestBlock() *models.Block {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.chain[len(l.chain)-1].Clone()
}

func (l *Ledger) BlockCount() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.chain)
}

func (l *Ledger) PendingCount() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.pending)
}

// Difficulty reports the number of leading zero hex digits sealed blocks
// carry.
func (l *Ledger) Difficulty() int {
	return l.difficulty
}

func (l *Ledger) MiningReward() int64 {
	return l.reward
}
