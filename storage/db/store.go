package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"voting-ledger/logger"
	"voting-ledger/models"
	"voting-ledger/registry"
	"voting-ledger/storage"
)

// Store serves the election catalog, the block chain and the voter
// registry from one database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func orderBySeq(db *gorm.DB) *gorm.DB {
	return db.Order("seq")
}

// LoadElections returns every stored election in creation order.
func (s *Store) LoadElections(ctx context.Context) ([]models.Election, error) {
	var rows []ElectionRow
	err := s.db.WithContext(ctx).
		Preload("Positions", orderBySeq).
		Preload("Positions.Candidates", orderBySeq).
		Order("seq").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load elections: %w", err)
	}

	elections := make([]models.Election, len(rows))
	for i, row := range rows {
		elections[i] = fromElectionRow(row)
	}
	return elections, nil
}

// SaveElection inserts or replaces an election with its positions and
// candidates. A replaced election keeps its creation order.
func (s *Store) SaveElection(ctx context.Context, election *models.Election) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ElectionRow
		seq := 0
		err := tx.Select("id", "seq").Where("id = ?", election.ID).Take(&existing).Error
		switch {
		case err == nil:
			seq = existing.Seq
			if err := deleteElection(tx, election.ID); err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			var maxSeq int
			if err := tx.Model(&ElectionRow{}).Select("COALESCE(MAX(seq), -1)").Row().Scan(&maxSeq); err != nil {
				return err
			}
			seq = maxSeq + 1
		default:
			return err
		}

		row := toElectionRow(election, seq)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save election %s: %w", election.ID, err)
		}
		return nil
	})
}

func deleteElection(tx *gorm.DB, id string) error {
	positions := tx.Model(&PositionRow{}).Select("id").Where("election_id = ?", id)
	if err := tx.Where("position_row_id IN (?)", positions).Delete(&CandidateRow{}).Error; err != nil {
		return err
	}
	if err := tx.Where("election_id = ?", id).Delete(&PositionRow{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).Delete(&ElectionRow{}).Error
}

// SaveBlock stores block and its transactions at height atomically.
func (s *Store) SaveBlock(height int, block *models.Block) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&BlockRow{}).Count(&count).Error; err != nil {
			return err
		}
		if int(count) != height {
			return fmt.Errorf("%w: expected height %d, got %d", storage.ErrHeightMismatch, count, height)
		}

		row := toBlockRow(height, block)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save block %d: %w", height, err)
		}
		return nil
	})
}

func (s *Store) LoadChain() ([]*models.Block, error) {
	var rows []BlockRow
	err := s.db.
		Preload("Transactions", orderBySeq).
		Order("height").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}

	blocks := make([]*models.Block, len(rows))
	for i, row := range rows {
		if row.Height != int64(i) {
			return nil, fmt.Errorf("chain has a gap: expected height %d, found %d", i, row.Height)
		}
		blocks[i] = fromBlockRow(row)
	}
	return blocks, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Register(email, electionID, schoolID string) error {
	normalized, err := registry.ValidateEmail(email)
	if err != nil {
		return err
	}
	if electionID == "" {
		return fmt.Errorf("election id is required")
	}

	row := VoterRow{
		Email:        normalized,
		ElectionID:   electionID,
		SchoolID:     schoolID,
		RegisteredAt: s.now(),
	}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to register voter: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		logger.Info("voter registered", "email", normalized, "election", electionID)
	}
	return nil
}

func (s *Store) Verify(email, electionID string) error {
	normalized := registry.NormalizeEmail(email)

	result := s.db.Model(&VoterRow{}).
		Where("email = ? AND election_id = ?", normalized, electionID).
		Updates(map[string]any{"is_verified": true, "verified_at": s.now()})
	if result.Error != nil {
		return fmt.Errorf("failed to verify voter: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s in election %s", registry.ErrVoterNotFound, normalized, electionID)
	}
	return nil
}

func (s *Store) findVoter(email, electionID string) (*VoterRow, bool) {
	var row VoterRow
	err := s.db.Where("email = ? AND election_id = ?", registry.NormalizeEmail(email), electionID).Take(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("voter lookup failed", "email", email, "election", electionID, "err", err)
		}
		return nil, false
	}
	return &row, true
}

func (s *Store) IsRegistered(email, electionID string) bool {
	_, ok := s.findVoter(email, electionID)
	return ok
}

func (s *Store) IsVerified(email, electionID string) bool {
	row, ok := s.findVoter(email, electionID)
	return ok && row.IsVerified
}

func (s *Store) Voters(electionID string) ([]registry.Voter, error) {
	var rows []VoterRow
	if err := s.db.Where("election_id = ?", electionID).Order("registered_at, email").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list voters: %w", err)
	}

	voters := make([]registry.Voter, len(rows))
	for i, row := range rows {
		voters[i] = registry.Voter{
			Email:        row.Email,
			ElectionID:   row.ElectionID,
			SchoolID:     row.SchoolID,
			IsVerified:   row.IsVerified,
			RegisteredAt: row.RegisteredAt,
			VerifiedAt:   row.VerifiedAt,
		}
	}
	return voters, nil
}
