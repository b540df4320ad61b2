package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-ledger/blockchain/ledger"
	"voting-ledger/config"
	"voting-ledger/models"
	"voting-ledger/storage"
)

func sealedChain(t *testing.T, store storage.BlockStore) []*models.Block {
	t.Helper()

	l, err := ledger.New(ledger.Options{Difficulty: 1, MiningReward: 5, Store: store})
	require.NoError(t, err)
	for _, tx := range []models.Transaction{
		{VoterID: "a", VoteKey: "president:c1"},
		{VoterID: "b", VoteKey: "president:c1"},
		{VoterID: "a", VoteKey: "yes"},
	} {
		require.NoError(t, l.AddTransaction(tx))
		_, err := l.MinePendingTransactions("m")
		require.NoError(t, err)
	}
	return l.Blocks()
}

func TestBuildReport(t *testing.T) {
	blocks := sealedChain(t, nil)

	r := buildReport("memory", blocks)
	require.NoError(t, r.Err)
	assert.Equal(t, 4, r.Blocks)
	assert.Equal(t, 3, r.Votes)
	assert.Equal(t, 2, r.Voters)
	assert.Equal(t, int64(15), r.Rewards)
	assert.Equal(t, map[string]int{"president:c1": 2, "legacy:yes": 1}, r.Tallies)
	assert.Equal(t, blocks[3].Hash, r.Head)

	r.ShowKeys = true
	out := render(r)
	assert.Contains(t, out, "VALID")
	assert.Contains(t, out, "president:c1")
	assert.NotContains(t, out, "INVALID")
}

func TestBuildReportTampered(t *testing.T) {
	blocks := sealedChain(t, nil)
	blocks[2].Transactions[0].VoteKey = "president:c2"

	r := buildReport("memory", blocks)
	assert.ErrorIs(t, r.Err, ledger.ErrChainIntegrity)
	assert.Contains(t, render(r), "INVALID")
}

func TestLoadChainFromStores(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewJSONStore(dir)
	require.NoError(t, err)
	want := sealedChain(t, store)

	cfg := config.Default()
	cfg.StorageDir = dir
	cfg.Backend = config.BackendJSON

	source, blocks, err := loadChain(cfg, false)
	require.NoError(t, err)
	assert.Equal(t, "json store", source)
	require.Len(t, blocks, len(want))
	assert.Equal(t, want[len(want)-1].Hash, blocks[len(blocks)-1].Hash)

	cfg.Backend = config.BackendMemory
	_, _, err = loadChain(cfg, false)
	assert.Error(t, err)
}

func TestLoadChainFromArchive(t *testing.T) {
	cfg := config.Default()
	cfg.StorageDir = t.TempDir()

	archive, err := storage.NewArchive(cfg.StorageDir+"/snapshots", 2)
	require.NoError(t, err)
	want := sealedChain(t, nil)
	_, err = archive.Save(want)
	require.NoError(t, err)

	_, blocks, err := loadChain(cfg, true)
	require.NoError(t, err)
	assert.Len(t, blocks, len(want))
	assert.NoError(t, ledger.ValidateChain(blocks))
}
