// Package registry tracks voter registration and email verification per
// election. It is advisory: the ledger never consults it.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrVoterNotFound = errors.New("voter not registered")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Voter is one registration of an email address for an election.
type Voter struct {
	Email        string     `json:"email"`
	ElectionID   string     `json:"election_id"`
	SchoolID     string     `json:"school_id,omitempty"`
	IsVerified   bool       `json:"is_verified"`
	RegisteredAt time.Time  `json:"registered_at"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
}

// Store is implemented by FileRegistry and the relational store in storage/db.
type Store interface {
	// Register is idempotent: registering an existing voter is not an error.
	Register(email, electionID, schoolID string) error
	Verify(email, electionID string) error
	IsRegistered(email, electionID string) bool
	IsVerified(email, electionID string) bool
	Voters(electionID string) ([]Voter, error)
}

// NormalizeEmail lower-cases and trims an address. Voter ids are always
// stored normalized.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail normalizes email and checks its shape.
func ValidateEmail(email string) (string, error) {
	normalized := NormalizeEmail(email)
	if !emailPattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return normalized, nil
}
