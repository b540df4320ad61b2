package models

import "time"

type ElectionStatus string

const (
	StatusPending ElectionStatus = "pending"
	StatusActive  ElectionStatus = "active"
	StatusClosed  ElectionStatus = "closed"
)

type Candidate struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Picture     string `json:"picture,omitempty" yaml:"picture,omitempty"`
}

// Position is an electable role within an election.
type Position struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Candidates  []Candidate `json:"candidates" yaml:"candidates"`
}

type Election struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Positions   []Position `json:"positions"`
	SchoolID    string     `json:"school_id,omitempty"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     time.Time  `json:"end_date"`
	IsActive    bool       `json:"is_active"` // evaluated once, at construction
	CreatedAt   time.Time  `json:"created_at"`
}

// LegacyOption is a flat vote option of a single-position election.
type LegacyOption struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// NewElection builds an election record and evaluates IsActive against now.
func NewElection(id, title, description string, positions []Position, start, end time.Time, schoolID string, now time.Time) *Election {
	return &Election{
		ID:          id,
		Title:       title,
		Description: description,
		Positions:   clonePositions(positions),
		SchoolID:    schoolID,
		StartDate:   start,
		EndDate:     end,
		IsActive:    !now.Before(start) && !now.After(end),
		CreatedAt:   now,
	}
}

// LegacyPosition wraps flat options into the implicit legacy position.
func LegacyPosition(options []LegacyOption) Position {
	position := Position{ID: LegacyPositionID, Title: "Options"}
	for _, option := range options {
		position.Candidates = append(position.Candidates, Candidate{
			ID:          option.ID,
			Name:        option.Label,
			Description: option.Description,
		})
	}
	return position
}

// Position looks up a position by id.
func (e *Election) Position(id string) (*Position, bool) {
	for i := range e.Positions {
		if e.Positions[i].ID == id {
			return &e.Positions[i], true
		}
	}
	return nil, false
}

// StatusAt derives the election phase from wall clock t.
func (e *Election) StatusAt(t time.Time) ElectionStatus {
	switch {
	case t.Before(e.StartDate):
		return StatusPending
	case t.After(e.EndDate):
		return StatusClosed
	default:
		return StatusActive
	}
}

func (e *Election) Clone() *Election {
	clone := *e
	clone.Positions = clonePositions(e.Positions)
	return &clone
}

// Candidate looks up a candidate by id.
func (p *Position) Candidate(id string) (*Candidate, bool) {
	for i := range p.Candidates {
		if p.Candidates[i].ID == id {
			return &p.Candidates[i], true
		}
	}
	return nil, false
}

func clonePositions(positions []Position) []Position {
	if positions == nil {
		return nil
	}
	out := make([]Position, len(positions))
	for i, p := range positions {
		out[i] = p
		out[i].Candidates = append([]Candidate(nil), p.Candidates...)
	}
	return out
}
