package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-ledger/blockchain/ledger"
	"voting-ledger/catalog"
	"voting-ledger/models"
	"voting-ledger/registry"
	"voting-ledger/service"
)

type testEnv struct {
	server   *httptest.Server
	service  *service.VotingService
	registry *registry.FileRegistry
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	l, err := ledger.New(ledger.Options{Difficulty: 1, MiningReward: 10})
	require.NoError(t, err)
	svc, err := service.NewVotingService(service.Config{Ledger: l})
	require.NoError(t, err)

	reg, err := registry.NewFileRegistry(registry.RegistryConfig{
		VotersFilePath: filepath.Join(t.TempDir(), "voters.json"),
		AutoSave:       true,
	})
	require.NoError(t, err)

	cfg := Config{Service: svc, Registry: reg}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, service: svc, registry: reg}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) createCouncil(t *testing.T) {
	t.Helper()
	resp := e.post(t, "/api/elections", CreateElectionRequest{
		ID:    "E1",
		Title: "Council",
		Positions: []PositionRequest{
			{ID: "P1", Title: "President", Candidates: []CandidateRequest{{ID: "C1", Name: "Ada"}, {ID: "C2", Name: "Bob"}}},
		},
		StartDate: time.Now().Add(-time.Hour),
		EndDate:   time.Now().Add(24 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateAndListElections(t *testing.T) {
	env := newTestEnv(t)
	env.createCouncil(t)

	resp := env.post(t, "/api/elections", CreateElectionRequest{
		Title:     "Generated ids",
		Positions: []PositionRequest{{Title: "Captain", Candidates: []CandidateRequest{{Name: "Cy"}}}},
		Options:   []models.LegacyOption{{ID: "yes", Label: "Yes"}},
		StartDate: time.Now(),
		EndDate:   time.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Election](t, resp)
	assert.NotEmpty(t, created.ID)
	require.Len(t, created.Positions, 2)
	assert.NotEmpty(t, created.Positions[0].ID)
	assert.NotEmpty(t, created.Positions[0].Candidates[0].ID)
	assert.Equal(t, models.LegacyPositionID, created.Positions[1].ID)

	elections := decode[[]models.Election](t, env.get(t, "/api/elections"))
	assert.Len(t, elections, 2)

	current := decode[models.Election](t, env.get(t, "/api/elections/current"))
	assert.Equal(t, "E1", current.ID)

	resp = env.post(t, "/api/elections/current", SetCurrentRequest{ElectionID: created.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, env.service.CurrentElection().ID)

	resp = env.post(t, "/api/elections/current", SetCurrentRequest{ElectionID: "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateElectionValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/elections", CreateElectionRequest{
		ID:        "bad",
		StartDate: time.Now(),
		EndDate:   time.Now().Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, "/api/elections", CreateElectionRequest{
		ID: "board",
		Positions: []PositionRequest{
			{ID: "board:chair", Candidates: []CandidateRequest{{ID: "C1"}}},
			{ID: "board:treasurer", Candidates: []CandidateRequest{{ID: "C2"}}},
		},
		StartDate: time.Now(),
		EndDate:   time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, "/api/elections", CreateElectionRequest{
		ID: "twice",
		Positions: []PositionRequest{
			{ID: "P1", Candidates: []CandidateRequest{{ID: "C1"}}},
			{ID: "P1", Candidates: []CandidateRequest{{ID: "C2"}}},
		},
		StartDate: time.Now(),
		EndDate:   time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.get(t, "/api/elections/current")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCastVoteAndResults(t *testing.T) {
	env := newTestEnv(t)
	env.createCouncil(t)

	resp := env.post(t, "/api/vote", CastVoteRequest{VoterID: " Voter@School.edu ", PositionID: "P1", CandidateID: "C1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[service.ProcessingResult](t, resp)
	assert.True(t, result.Success)
	assert.Equal(t, "voter@school.edu", result.VoterID)
	assert.Equal(t, 2, result.BlockCount)

	resp = env.post(t, "/api/vote", CastVoteRequest{VoterID: "voter@school.edu", PositionID: "P1", CandidateID: "C2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.post(t, "/api/vote", CastVoteRequest{VoterID: "other@school.edu", PositionID: "P1", CandidateID: "C9"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, "/api/vote", CastVoteRequest{VoterID: "other@school.edu", ElectionID: "E2", PositionID: "P1", CandidateID: "C1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	results := decode[ResultsResponse](t, env.get(t, "/api/results?election_id=E1"))
	assert.Equal(t, map[string]int{"C1": 1, "C2": 0}, results.Results["P1"])
	assert.Equal(t, 1, results.TotalVotes)
	assert.Nil(t, results.LegacyResults)

	resp = env.get(t, "/api/results?election_id=missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCastVoteWithoutElection(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/vote", CastVoteRequest{VoterID: "a@b.co", PositionID: "P1", CandidateID: "C1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, "/api/vote", CastVoteRequest{PositionID: "P1", CandidateID: "C1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLegacyOptionVote(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/elections", CreateElectionRequest{
		ID:        "R1",
		Title:     "Referendum",
		Options:   []models.LegacyOption{{ID: "yes"}, {ID: "no"}},
		StartDate: time.Now().Add(-time.Hour),
		EndDate:   time.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.post(t, "/api/vote", CastVoteRequest{VoterID: "a@b.co", OptionID: "no"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results := decode[ResultsResponse](t, env.get(t, "/api/results"))
	assert.Equal(t, map[string]int{"yes": 0, "no": 1}, results.LegacyResults)
}

func TestVoteThroughQueue(t *testing.T) {
	var queue *service.QueueProcessor
	env := newTestEnv(t, func(c *Config) {
		queue = service.NewQueueProcessor(c.Service, 10, 0)
		c.Queue = queue
	})
	queue.Start()
	t.Cleanup(queue.Stop)
	env.createCouncil(t)

	resp := env.post(t, "/api/vote", CastVoteRequest{VoterID: "a@b.co", PositionID: "P1", CandidateID: "C2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[service.ProcessingResult](t, resp)
	assert.NotEmpty(t, result.RequestID)

	resp = env.post(t, "/api/vote", CastVoteRequest{VoterID: "a@b.co", PositionID: "P1", CandidateID: "C1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRequireVerified(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RequireVerified = true })
	env.createCouncil(t)

	vote := CastVoteRequest{VoterID: "a@b.co", PositionID: "P1", CandidateID: "C1"}
	resp := env.post(t, "/api/vote", vote)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.post(t, "/api/voters/register", VoterRequest{Email: "A@B.co", ElectionID: "E1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decode[VoterStatusResponse](t, env.get(t, "/api/voters/status?email=a@b.co"))
	assert.True(t, status.Registered)
	assert.False(t, status.Verified)
	assert.Equal(t, "E1", status.ElectionID)

	resp = env.post(t, "/api/vote", vote)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.post(t, "/api/voters/verify", VoterRequest{Email: "a@b.co"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.post(t, "/api/vote", vote)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status = decode[VoterStatusResponse](t, env.get(t, "/api/voters/status?email=a@b.co&election_id=E1"))
	assert.True(t, status.Verified)
	assert.True(t, status.HasVoted)
}

func TestRegisterVoterErrors(t *testing.T) {
	env := newTestEnv(t)
	env.createCouncil(t)

	resp := env.post(t, "/api/voters/register", VoterRequest{Email: "not-an-email", ElectionID: "E1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, "/api/voters/register", VoterRequest{Email: "a@b.co", ElectionID: "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.post(t, "/api/voters/verify", VoterRequest{Email: "ghost@b.co", ElectionID: "E1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.get(t, "/api/voters/register")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = env.get(t, "/api/voters/status")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReloadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elections.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
elections:
  - id: fall
    title: Fall vote
    start_date: "2000-01-01"
    end_date: "2999-01-01"
    options:
      - {id: a, label: A}
`), 0644))

	env := newTestEnv(t, func(c *Config) { c.Catalog = catalog.FileProvider{Path: path} })

	resp := env.post(t, "/api/catalog/reload", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fall", env.service.CurrentElection().ID)

	noCatalog := newTestEnv(t)
	resp = noCatalog.post(t, "/api/catalog/reload", struct{}{})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestChainEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.createCouncil(t)
	require.NoError(t, env.service.CastVote("a@b.co", "P1", "C1"))

	chain := decode[BlockchainResponse](t, env.get(t, "/api/blockchain"))
	assert.Equal(t, 2, chain.Length)
	assert.True(t, chain.IsValid)
	assert.Equal(t, chain.Blocks[1].Hash, chain.LastHash)

	validation := decode[ValidationResponse](t, env.get(t, "/api/blockchain/validate"))
	assert.True(t, validation.Valid)
	assert.Equal(t, 2, validation.Blocks)

	status := decode[StatusResponse](t, env.get(t, "/api/status"))
	assert.Equal(t, 2, status.BlockCount)
	assert.Equal(t, 1, status.TotalVotes)
	assert.True(t, status.ChainValid)
	assert.Equal(t, int64(10), status.RewardBalance)
	assert.Equal(t, 1, status.Metrics.Voting.Count)
	require.NotNil(t, status.CurrentElection)
	assert.Equal(t, "E1", status.CurrentElection.ID)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createCouncil(t)
	require.NoError(t, env.service.CastVote("a@b.co", "P1", "C1"))

	resp := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ledger_votes_accepted_total 1")
	assert.Contains(t, string(body), "ledger_chain_blocks 2")
}
