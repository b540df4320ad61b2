// Package service is the election facade over the ledger: it validates
// votes against the election catalog, encodes them, admits and seals them,
// and derives per-position results.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voting-ledger/blockchain/ledger"
	"voting-ledger/catalog"
	"voting-ledger/logger"
	"voting-ledger/models"
)

var (
	// ErrVoteRejected wraps every reason a vote is not admitted.
	ErrVoteRejected = errors.New("vote rejected")

	ErrNoCurrentElection = fmt.Errorf("%w: no current election", ErrVoteRejected)
	ErrElectionInactive  = fmt.Errorf("%w: election is not active", ErrVoteRejected)
	ErrUnknownPosition   = fmt.Errorf("%w: unknown position", ErrVoteRejected)
	ErrUnknownCandidate  = fmt.Errorf("%w: unknown candidate", ErrVoteRejected)

	ErrUnknownElection = catalog.ErrUnknownElection
)

// ElectionSaver persists elections created through the facade.
type ElectionSaver interface {
	SaveElection(ctx context.Context, election *models.Election) error
}

type Config struct {
	Ledger  *ledger.Ledger
	Catalog *catalog.Catalog

	// Policy defaults to sealing every vote.
	Policy ledger.SealPolicy

	// MinerAddress is recorded in sealing logs.
	MinerAddress string

	// Elections, when set, receives every created election.
	Elections ElectionSaver

	Metrics *MetricsCollector
	Now     func() time.Time
}

// VotingService serializes admission and sealing under one lock, so a
// duplicate check and the append it guards can never interleave with
// another vote.
type VotingService struct {
	ledger    *ledger.Ledger
	catalog   *catalog.Catalog
	policy    ledger.SealPolicy
	miner     string
	elections ElectionSaver
	metrics   *MetricsCollector
	now       func() time.Time

	mu sync.Mutex
}

func NewVotingService(cfg Config) (*VotingService, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}

	s := &VotingService{
		ledger:    cfg.Ledger,
		catalog:   cfg.Catalog,
		policy:    cfg.Policy,
		miner:     cfg.MinerAddress,
		elections: cfg.Elections,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.catalog == nil {
		s.catalog = catalog.New(s.now)
	}
	if s.policy == nil {
		s.policy = ledger.SealEveryVote{}
	}
	if s.miner == "" {
		s.miner = "miner"
	}
	if s.metrics == nil {
		s.metrics = NewMetricsCollector()
	}
	s.metrics.SetChainHeight(s.ledger.BlockCount())

	return s, nil
}

// CreateElection adds an election to the catalog. IsActive is evaluated now
// and never re-evaluated. The first election created becomes current.
func (s *VotingService) CreateElection(id, title, description string, positions []models.Position, start, end time.Time, schoolID string) (*models.Election, error) {
	if err := catalog.ValidateElection(id, positions, start, end); err != nil {
		return nil, err
	}

	if s.elections != nil {
		record := models.NewElection(id, title, description, positions, start, end, schoolID, s.now())
		if err := s.elections.SaveElection(context.Background(), record); err != nil {
			return nil, fmt.Errorf("failed to persist election %s: %w", id, err)
		}
	}

	return s.catalog.Create(id, title, description, positions, start, end, schoolID)
}

func (s *VotingService) SetCurrentElection(id string) error {
	return s.catalog.SetCurrent(id)
}

func (s *VotingService) CurrentElection() *models.Election {
	return s.catalog.Current()
}

func (s *VotingService) Election(id string) (*models.Election, bool) {
	return s.catalog.Get(id)
}

func (s *VotingService) Elections() []*models.Election {
	return s.catalog.All()
}

// ReloadCatalog replaces the election catalog from provider. Votes already
// in the ledger are unaffected.
func (s *VotingService) ReloadCatalog(ctx context.Context, provider catalog.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.catalog.Reload(ctx, provider)
}

// ElectionStatus derives the election phase from the current wall clock.
func (s *VotingService) ElectionStatus(id string) (models.ElectionStatus, error) {
	election, ok := s.catalog.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownElection, id)
	}
	return election.StatusAt(s.now()), nil
}

// CastVote records voterID's vote for candidateID in positionID of the
// current election. A nil error means the vote is in the ledger and visible
// to every query.
func (s *VotingService) CastVote(voterID, positionID, candidateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.castVote(voterID, positionID, candidateID)
	s.metrics.RecordVote(time.Since(start), rejectionReason(err))

	if err != nil {
		logger.Debug("vote rejected", "voter", voterID, "position", positionID, "candidate", candidateID, "err", err)
	}
	return err
}

// CastLegacyVote casts a vote for a flat option id of a single-position election.
func (s *VotingService) CastLegacyVote(voterID, optionID string) error {
	return s.CastVote(voterID, models.LegacyPositionID, optionID)
}

func (s *VotingService) castVote(voterID, positionID, candidateID string) error {
	election := s.catalog.Current()
	if election == nil {
		return ErrNoCurrentElection
	}
	if !election.IsActive {
		return fmt.Errorf("%w: %s", ErrElectionInactive, election.ID)
	}

	position, ok := election.Position(positionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}
	if _, ok := position.Candidate(candidateID); !ok {
		return fmt.Errorf("%w: %s in position %s", ErrUnknownCandidate, candidateID, positionID)
	}

	if !s.ledger.IsVoterRegistered(voterID) {
		s.ledger.RegisterVoter(voterID)
	}

	tx := models.Transaction{
		VoterID:   voterID,
		VoteKey:   models.EncodeVoteKey(positionID, candidateID),
		Timestamp: s.now().UnixMilli(),
	}
	if err := s.ledger.AddTransaction(tx); err != nil {
		return fmt.Errorf("%w: %w", ErrVoteRejected, err)
	}

	if s.policy.ShouldSeal(s.ledger.PendingCount()) {
		if _, err := s.seal(); err != nil {
			s.ledger.DiscardPending(tx)
			return fmt.Errorf("failed to seal vote: %w", err)
		}
	}

	return nil
}

// seal mines the pending buffer into a block. Callers hold s.mu.
func (s *VotingService) seal() (*models.Block, error) {
	start := time.Now()
	block, err := s.ledger.MinePendingTransactions(s.miner)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSeal(time.Since(start), s.ledger.BlockCount())
	return block, nil
}

// Flush seals any pending votes. It returns nil when nothing is pending.
func (s *VotingService) Flush() (*models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ledger.PendingCount() == 0 {
		return nil, nil
	}
	return s.seal()
}

// HasVotedInPosition reports whether voterID has a vote for positionID.
func (s *VotingService) HasVotedInPosition(voterID, positionID string) bool {
	for _, tx := range s.ledger.AllVotes() {
		if tx.VoterID == voterID && tx.Position() == positionID {
			return true
		}
	}
	return false
}

// HasVoted reports whether voterID has voted in any position.
func (s *VotingService) HasVoted(voterID string) bool {
	return s.ledger.HasVoted(voterID)
}

// Results tallies the given election (the current one when electionID is
// empty) as position id -> candidate id -> votes. Every candidate of the
// election is present, zero-filled. Votes for keys outside the election are
// ignored. An unknown election yields an empty map.
func (s *VotingService) Results(electionID string) map[string]map[string]int {
	var election *models.Election
	if electionID == "" {
		election = s.catalog.Current()
	} else if e, ok := s.catalog.Get(electionID); ok {
		election = e
	}

	results := make(map[string]map[string]int)
	if election == nil {
		return results
	}

	s.metrics.RecordCountingStart()
	defer s.metrics.RecordCountingEnd()

	for _, position := range election.Positions {
		counts := make(map[string]int, len(position.Candidates))
		for _, candidate := range position.Candidates {
			counts[candidate.ID] = 0
		}
		results[position.ID] = counts
	}

	for key, n := range s.ledger.VoteCounts() {
		positionID, candidateID := models.DecodeVoteKey(models.CanonicalVoteKey(key))
		counts, ok := results[positionID]
		if !ok {
			continue
		}
		if _, ok := counts[candidateID]; ok {
			counts[candidateID] += n
		}
	}

	return results
}

// LegacyResults returns the flat option tally of a single-position election.
func (s *VotingService) LegacyResults(electionID string) map[string]int {
	counts, ok := s.Results(electionID)[models.LegacyPositionID]
	if !ok {
		return map[string]int{}
	}
	return counts
}

// TotalVotes counts every non-system transaction, across all elections.
func (s *VotingService) TotalVotes() int {
	return len(s.ledger.AllVotes())
}

func (s *VotingService) BlockCount() int {
	return s.ledger.BlockCount()
}

func (s *VotingService) PendingCount() int {
	return s.ledger.PendingCount()
}

func (s *VotingService) IsChainValid() bool {
	return s.ledger.IsChainValid()
}

// ValidateChain returns the first integrity violation, if any.
func (s *VotingService) ValidateChain() error {
	err := s.ledger.Validate()
	s.metrics.SetChainValid(err == nil)
	return err
}

func (s *VotingService) RewardBalance() int64 {
	return s.ledger.RewardBalance()
}

func (s *VotingService) Blocks() []*models.Block {
	return s.ledger.Blocks()
}

func (s *VotingService) Difficulty() int {
	return s.ledger.Difficulty()
}

func (s *VotingService) MinerAddress() string {
	return s.miner
}

func (s *VotingService) Metrics() *MetricsCollector {
	return s.metrics
}

// rejectionReason maps a cast error to a metrics label. Empty means accepted.
func rejectionReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCurrentElection):
		return "no_election"
	case errors.Is(err, ErrElectionInactive):
		return "inactive"
	case errors.Is(err, ErrUnknownPosition):
		return "unknown_position"
	case errors.Is(err, ErrUnknownCandidate):
		return "unknown_candidate"
	case errors.Is(err, ledger.ErrDuplicateVote):
		return "duplicate"
	case errors.Is(err, ledger.ErrInvalidTransaction):
		return "invalid"
	default:
		return "error"
	}
}
