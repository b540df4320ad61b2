package models

import (
	"fmt"
	"strings"
)

const (
	// SystemVoterID marks mining reward records. They never count as votes.
	SystemVoterID = "system"

	// LegacyPositionID is the implicit position of flat option ids from
	// single-position elections.
	LegacyPositionID = "legacy"

	voteKeySeparator = ":"
)

// Transaction is one recorded vote or system reward.
type Transaction struct {
	VoterID   string `json:"voterId"`
	VoteKey   string `json:"vote"`
	Timestamp int64  `json:"timestamp"` // milliseconds
}

func (tx Transaction) IsSystem() bool {
	return tx.VoterID == SystemVoterID
}

// IsWellFormed reports whether the transaction carries a voter, a vote key and a positive timestamp.
func (tx Transaction) IsWellFormed() bool {
	return tx.VoterID != "" && tx.VoteKey != "" && tx.Timestamp > 0
}

// Position returns the position the transaction votes in.
func (tx Transaction) Position() string {
	return PositionOf(tx.VoteKey)
}

// NewRewardTransaction builds the reward record appended to every sealed block.
func NewRewardTransaction(reward int64, timestamp int64) Transaction {
	return Transaction{
		VoterID:   SystemVoterID,
		VoteKey:   fmt.Sprintf("Mining reward: %d", reward),
		Timestamp: timestamp,
	}
}

// EncodeVoteKey returns the canonical "{position}:{candidate}" key.
func EncodeVoteKey(positionID, candidateID string) string {
	return positionID + voteKeySeparator + candidateID
}

// ValidPositionID reports whether id survives a round trip through
// EncodeVoteKey and DecodeVoteKey.
func ValidPositionID(id string) bool {
	return id != "" && !strings.Contains(id, voteKeySeparator)
}

// DecodeVoteKey splits a vote key at the first ':'.
// Legacy keys without a separator decode into LegacyPositionID.
func DecodeVoteKey(key string) (positionID, candidateID string) {
	positionID, candidateID, found := strings.Cut(key, voteKeySeparator)
	if !found {
		return LegacyPositionID, key
	}
	return positionID, candidateID
}

// PositionOf returns the position part of a vote key.
func PositionOf(key string) string {
	positionID, _ := DecodeVoteKey(key)
	return positionID
}

// CanonicalVoteKey translates a legacy flat option id into the composite
// encoding. Composite keys are returned unchanged.
func CanonicalVoteKey(key string) string {
	if strings.Contains(key, voteKeySeparator) {
		return key
	}
	return EncodeVoteKey(LegacyPositionID, key)
}
