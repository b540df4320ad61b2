package service

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"voting-ledger/logger"
	"voting-ledger/models"
	"voting-ledger/storage"
	"voting-ledger/wallet"
)

// ChainSource is the read side of the ledger the auditor needs.
type ChainSource interface {
	Validate() error
	Blocks() []*models.Block
}

// AuditReport is the outcome of one validation pass.
type AuditReport struct {
	At        time.Time `json:"at"`
	Blocks    int       `json:"blocks"`
	Head      string    `json:"head"`
	Valid     bool      `json:"valid"`
	Error     string    `json:"error,omitempty"`
	Snapshot  string    `json:"snapshot,omitempty"`
	Signer    string    `json:"signer,omitempty"`
	Signature string    `json:"signature,omitempty"`
}

// Auditor re-validates the chain on an interval. Valid chains are
// snapshotted to the archive when one is configured.
type Auditor struct {
	chain    ChainSource
	archive  *storage.Archive
	signer   *wallet.Wallet
	metrics  *MetricsCollector
	interval time.Duration

	mu   sync.RWMutex
	last *AuditReport
}

type AuditorConfig struct {
	Chain    ChainSource
	Archive  *storage.Archive // optional
	Signer   *wallet.Wallet   // optional, signs the head hash
	Metrics  *MetricsCollector
	Interval time.Duration
}

func NewAuditor(cfg AuditorConfig) *Auditor {
	return &Auditor{
		chain:    cfg.Chain,
		archive:  cfg.Archive,
		signer:   cfg.Signer,
		metrics:  cfg.Metrics,
		interval: cfg.Interval,
	}
}

// Run audits once immediately, then every interval until ctx is done.
func (a *Auditor) Run(ctx context.Context) {
	if a.interval <= 0 {
		return
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.Audit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Audit()
		}
	}
}

// Audit validates the chain and records the report.
func (a *Auditor) Audit() AuditReport {
	blocks := a.chain.Blocks()
	report := AuditReport{
		At:     time.Now(),
		Blocks: len(blocks),
	}
	if len(blocks) > 0 {
		report.Head = blocks[len(blocks)-1].Hash
	}

	log := logger.With("blocks", report.Blocks, "head", report.Head)
	if err := a.chain.Validate(); err != nil {
		report.Error = err.Error()
		log.Error("chain audit failed", "err", err)
	} else {
		report.Valid = true
		log.Debug("chain audit passed")
	}

	if a.metrics != nil {
		a.metrics.SetChainValid(report.Valid)
	}

	if report.Valid && a.archive != nil {
		path, err := a.archive.Save(blocks)
		if err != nil {
			log.Warn("failed to archive chain", "err", err)
		} else {
			report.Snapshot = path
		}
	}

	if a.signer != nil && report.Head != "" {
		sig, err := a.signer.Sign([]byte(report.Head))
		if err != nil {
			log.Warn("failed to sign audit report", "err", err)
		} else {
			report.Signer = a.signer.Address()
			report.Signature = hex.EncodeToString(sig)
		}
	}

	a.mu.Lock()
	a.last = &report
	a.mu.Unlock()

	return report
}

// Last returns the most recent report.
func (a *Auditor) Last() (AuditReport, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.last == nil {
		return AuditReport{}, false
	}
	return *a.last, true
}
