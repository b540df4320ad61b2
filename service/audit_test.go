package service

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-ledger/models"
	"voting-ledger/storage"
	"voting-ledger/wallet"
)

type brokenChain struct {
	blocks []*models.Block
}

func (b brokenChain) Validate() error         { return errors.New("block 1: hash mismatch") }
func (b brokenChain) Blocks() []*models.Block { return b.blocks }

func TestAuditValidChain(t *testing.T) {
	s := newTestService(t)
	createActive(t, s, "E1")
	require.NoError(t, s.CastVote("v1", "P1", "C1"))

	archive, err := storage.NewArchive(t.TempDir(), 3)
	require.NoError(t, err)
	signer, err := wallet.Generate()
	require.NoError(t, err)

	auditor := NewAuditor(AuditorConfig{
		Chain:   s.ledger,
		Archive: archive,
		Signer:  signer,
		Metrics: s.Metrics(),
	})

	_, ok := auditor.Last()
	assert.False(t, ok)

	report := auditor.Audit()
	assert.True(t, report.Valid)
	assert.Empty(t, report.Error)
	assert.Equal(t, 2, report.Blocks)
	assert.Equal(t, s.Blocks()[1].Hash, report.Head)
	assert.NotEmpty(t, report.Snapshot)
	assert.Equal(t, signer.Address(), report.Signer)

	sig, err := hex.DecodeString(report.Signature)
	require.NoError(t, err)
	assert.True(t, wallet.VerifySignature(signer.PublicKeyHex(), []byte(report.Head), sig))

	restored, err := archive.Latest()
	require.NoError(t, err)
	assert.Len(t, restored, 2)

	last, ok := auditor.Last()
	require.True(t, ok)
	assert.Equal(t, report.Head, last.Head)
}

func TestAuditInvalidChain(t *testing.T) {
	archive, err := storage.NewArchive(t.TempDir(), 3)
	require.NoError(t, err)
	metrics := NewMetricsCollector()

	genesis := models.NewBlock(1, nil, models.GenesisPreviousHash)
	auditor := NewAuditor(AuditorConfig{
		Chain:   brokenChain{blocks: []*models.Block{genesis}},
		Archive: archive,
		Metrics: metrics,
	})

	report := auditor.Audit()
	assert.False(t, report.Valid)
	assert.Contains(t, report.Error, "hash mismatch")
	assert.Empty(t, report.Snapshot, "invalid chains are not archived")
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.chainValid))

	snapshots, err := archive.Snapshots()
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestAuditorRunStopsWithContext(t *testing.T) {
	s := newTestService(t)
	auditor := NewAuditor(AuditorConfig{Chain: s.ledger, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		auditor.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := auditor.Last()
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("auditor did not stop")
	}
}
