package db

import (
	"time"

	"voting-ledger/models"
)

type ElectionRow struct {
	ID          string        `gorm:"primaryKey;size:128"`
	Title       string        `gorm:"size:256;not null"`
	Description string
	SchoolID    string        `gorm:"size:128;index"`
	StartDate   time.Time     `gorm:"not null"`
	EndDate     time.Time     `gorm:"not null"`
	Seq         int           `gorm:"index"` // creation order
	Positions   []PositionRow `gorm:"foreignKey:ElectionID;references:ID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ElectionRow) TableName() string { return "elections" }

type PositionRow struct {
	ID          uint           `gorm:"primaryKey"`
	ElectionID  string         `gorm:"size:128;not null;uniqueIndex:idx_position_election"`
	PositionID  string         `gorm:"size:128;not null;uniqueIndex:idx_position_election"`
	Title       string         `gorm:"size:256"`
	Description string
	Seq         int
	Candidates  []CandidateRow `gorm:"foreignKey:PositionRowID;constraint:OnDelete:CASCADE"`
}

func (PositionRow) TableName() string { return "positions" }

type CandidateRow struct {
	ID            uint   `gorm:"primaryKey"`
	PositionRowID uint   `gorm:"not null;index"`
	CandidateID   string `gorm:"size:128;not null"`
	Name          string `gorm:"size:256"`
	Description   string
	Picture       string
	Seq           int
}

func (CandidateRow) TableName() string { return "candidates" }

type BlockRow struct {
	Height       int64            `gorm:"primaryKey;autoIncrement:false"`
	Hash         string           `gorm:"size:64;uniqueIndex;not null"`
	PreviousHash string           `gorm:"size:64;not null"`
	Timestamp    int64            `gorm:"not null"`
	Nonce        uint64           `gorm:"not null"`
	Transactions []TransactionRow `gorm:"foreignKey:BlockHeight;references:Height;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
}

func (BlockRow) TableName() string { return "blockchain_blocks" }

type TransactionRow struct {
	ID          uint   `gorm:"primaryKey"`
	BlockHeight int64  `gorm:"not null;index"`
	Seq         int    `gorm:"not null"`
	VoterID     string `gorm:"size:256;not null;index"`
	VoteKey     string `gorm:"size:512;not null"`
	Timestamp   int64  `gorm:"not null"`
}

func (TransactionRow) TableName() string { return "vote_records" }

type VoterRow struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"size:256;not null;uniqueIndex:idx_voter_email_election"`
	ElectionID   string `gorm:"size:128;not null;uniqueIndex:idx_voter_email_election"`
	SchoolID     string `gorm:"size:128;index"`
	IsVerified   bool   `gorm:"not null;default:false"`
	RegisteredAt time.Time
	VerifiedAt   *time.Time
}

func (VoterRow) TableName() string { return "voters" }

func toBlockRow(height int, block *models.Block) BlockRow {
	row := BlockRow{
		Height:       int64(height),
		Hash:         block.Hash,
		PreviousHash: block.PreviousHash,
		Timestamp:    block.Timestamp,
		Nonce:        block.Nonce,
		Transactions: make([]TransactionRow, len(block.Transactions)),
	}
	for i, tx := range block.Transactions {
		row.Transactions[i] = TransactionRow{
			BlockHeight: int64(height),
			Seq:         i,
			VoterID:     tx.VoterID,
			VoteKey:     tx.VoteKey,
			Timestamp:   tx.Timestamp,
		}
	}
	return row
}

// fromBlockRow expects Transactions ordered by Seq.
func fromBlockRow(row BlockRow) *models.Block {
	block := &models.Block{
		Timestamp:    row.Timestamp,
		PreviousHash: row.PreviousHash,
		Hash:         row.Hash,
		Nonce:        row.Nonce,
		Transactions: make([]models.Transaction, len(row.Transactions)),
	}
	for i, tx := range row.Transactions {
		block.Transactions[i] = models.Transaction{
			VoterID:   tx.VoterID,
			VoteKey:   tx.VoteKey,
			Timestamp: tx.Timestamp,
		}
	}
	return block
}

func toElectionRow(e *models.Election, seq int) ElectionRow {
	row := ElectionRow{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		SchoolID:    e.SchoolID,
		StartDate:   e.StartDate,
		EndDate:     e.EndDate,
		Seq:         seq,
	}
	for i, p := range e.Positions {
		pr := PositionRow{
			ElectionID:  e.ID,
			PositionID:  p.ID,
			Title:       p.Title,
			Description: p.Description,
			Seq:         i,
		}
		for j, c := range p.Candidates {
			pr.Candidates = append(pr.Candidates, CandidateRow{
				CandidateID: c.ID,
				Name:        c.Name,
				Description: c.Description,
				Picture:     c.Picture,
				Seq:         j,
			})
		}
		row.Positions = append(row.Positions, pr)
	}
	return row
}

// fromElectionRow expects positions and candidates ordered by Seq.
// IsActive is left for the catalog to evaluate.
func fromElectionRow(row ElectionRow) models.Election {
	e := models.Election{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		SchoolID:    row.SchoolID,
		StartDate:   row.StartDate,
		EndDate:     row.EndDate,
		CreatedAt:   row.CreatedAt,
	}
	for _, pr := range row.Positions {
		p := models.Position{
			ID:          pr.PositionID,
			Title:       pr.Title,
			Description: pr.Description,
		}
		for _, cr := range pr.Candidates {
			p.Candidates = append(p.Candidates, models.Candidate{
				ID:          cr.CandidateID,
				Name:        cr.Name,
				Description: cr.Description,
				Picture:     cr.Picture,
			})
		}
		e.Positions = append(e.Positions, p)
	}
	return e
}
