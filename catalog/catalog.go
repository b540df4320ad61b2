// Package catalog holds the set of elections the facade votes against.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voting-ledger/logger"
	"voting-ledger/models"
)

var (
	ErrUnknownElection = errors.New("unknown election")
	ErrInvalidElection = errors.New("invalid election")
)

// Provider loads election records from an external source.
type Provider interface {
	LoadElections(ctx context.Context) ([]models.Election, error)
}

// Catalog is an in-memory set of elections plus the current election id.
// Records are immutable once stored; IsActive is evaluated only when a
// record is created or reloaded.
type Catalog struct {
	mu        sync.RWMutex
	elections map[string]*models.Election
	order     []string
	currentID string
	now       func() time.Time
}

func New(now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	return &Catalog{
		elections: make(map[string]*models.Election),
		now:       now,
	}
}

// Create stores a new election. Re-using an id replaces the record in place.
// The first election created becomes current.
func (c *Catalog) Create(id, title, description string, positions []models.Position, start, end time.Time, schoolID string) (*models.Election, error) {
	if err := ValidateElection(id, positions, start, end); err != nil {
		return nil, err
	}

	election := models.NewElection(id, title, description, positions, start, end, schoolID, c.now())

	c.mu.Lock()
	defer c.mu.Unlock()

	c.put(election)
	if c.currentID == "" {
		c.currentID = id
	}

	logger.Info("election created", "id", id, "positions", len(positions), "active", election.IsActive)
	return election.Clone(), nil
}

// ValidateElection checks the fields every election record needs. Position
// ids must be unique within the election and must not contain the vote key
// separator, otherwise votes would decode into the wrong position.
func ValidateElection(id string, positions []models.Position, start, end time.Time) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidElection)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidElection, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	seen := make(map[string]struct{}, len(positions))
	for _, position := range positions {
		if !models.ValidPositionID(position.ID) {
			return fmt.Errorf("%w: election %s: invalid position id %q", ErrInvalidElection, id, position.ID)
		}
		if _, dup := seen[position.ID]; dup {
			return fmt.Errorf("%w: election %s: duplicate position id %s", ErrInvalidElection, id, position.ID)
		}
		seen[position.ID] = struct{}{}

		candidates := make(map[string]struct{}, len(position.Candidates))
		for _, candidate := range position.Candidates {
			if candidate.ID == "" {
				return fmt.Errorf("%w: election %s: position %s has a candidate without id", ErrInvalidElection, id, position.ID)
			}
			if _, dup := candidates[candidate.ID]; dup {
				return fmt.Errorf("%w: election %s: position %s: duplicate candidate id %s", ErrInvalidElection, id, position.ID, candidate.ID)
			}
			candidates[candidate.ID] = struct{}{}
		}
	}
	return nil
}

func (c *Catalog) put(election *models.Election) {
	if _, exists := c.elections[election.ID]; !exists {
		c.order = append(c.order, election.ID)
	}
	c.elections[election.ID] = election
}

func (c *Catalog) Get(id string) (*models.Election, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	election, ok := c.elections[id]
	if !ok {
		return nil, false
	}
	return election.Clone(), true
}

// All returns every election in creation order.
func (c *Catalog) All() []*models.Election {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elections := make([]*models.Election, 0, len(c.order))
	for _, id := range c.order {
		elections = append(elections, c.elections[id].Clone())
	}
	return elections
}

// Current returns the current election, or nil when none is set.
func (c *Catalog) Current() *models.Election {
	c.mu.RLock()
	defer c.mu.RUnlock()

	election, ok := c.elections[c.currentID]
	if !ok {
		return nil
	}
	return election.Clone()
}

func (c *Catalog) SetCurrent(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.elections[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownElection, id)
	}
	c.currentID = id
	return nil
}

// Reload replaces the catalog with the provider's elections. The current
// election is kept if it is still present, otherwise the first loaded one
// becomes current.
func (c *Catalog) Reload(ctx context.Context, provider Provider) error {
	loaded, err := provider.LoadElections(ctx)
	if err != nil {
		return fmt.Errorf("failed to load elections: %w", err)
	}

	now := c.now()
	elections := make(map[string]*models.Election, len(loaded))
	order := make([]string, 0, len(loaded))
	for _, e := range loaded {
		if err := ValidateElection(e.ID, e.Positions, e.StartDate, e.EndDate); err != nil {
			return err
		}
		if _, dup := elections[e.ID]; dup {
			return fmt.Errorf("%w: duplicate election id %s", ErrInvalidElection, e.ID)
		}
		elections[e.ID] = models.NewElection(e.ID, e.Title, e.Description, e.Positions, e.StartDate, e.EndDate, e.SchoolID, now)
		order = append(order, e.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.elections = elections
	c.order = order
	if _, ok := elections[c.currentID]; !ok {
		c.currentID = ""
		if len(order) > 0 {
			c.currentID = order[0]
		}
	}

	logger.Info("catalog reloaded", "elections", len(order), "current", c.currentID)
	return nil
}
