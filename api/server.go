// Package api exposes the voting facade over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"voting-ledger/blockchain/ledger"
	"voting-ledger/catalog"
	"voting-ledger/logger"
	"voting-ledger/models"
	"voting-ledger/registry"
	"voting-ledger/service"
)

type Config struct {
	Service *service.VotingService

	// Queue, when set, receives every vote instead of casting inline.
	Queue *service.QueueProcessor

	Registry registry.Store // optional
	Catalog  catalog.Provider
	Auditor  *service.Auditor

	// RequireVerified rejects votes from voters whose email is not verified
	// for the election.
	RequireVerified bool
}

type Server struct {
	votingService   *service.VotingService
	queue           *service.QueueProcessor
	registry        registry.Store
	catalog         catalog.Provider
	auditor         *service.Auditor
	requireVerified bool
}

type CandidateRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Picture     string `json:"picture,omitempty"`
}

type PositionRequest struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Candidates  []CandidateRequest `json:"candidates"`
}

type CreateElectionRequest struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Positions   []PositionRequest     `json:"positions"`
	Options     []models.LegacyOption `json:"options,omitempty"`
	StartDate   time.Time             `json:"start_date"`
	EndDate     time.Time             `json:"end_date"`
	SchoolID    string                `json:"school_id,omitempty"`
}

type SetCurrentRequest struct {
	ElectionID string `json:"election_id"`
}

type CastVoteRequest struct {
	VoterID     string `json:"voter_id"`
	ElectionID  string `json:"election_id,omitempty"`
	PositionID  string `json:"position_id"`
	CandidateID string `json:"candidate_id"`
	OptionID    string `json:"option_id,omitempty"`
}

type VoterRequest struct {
	Email      string `json:"email"`
	ElectionID string `json:"election_id"`
	SchoolID   string `json:"school_id,omitempty"`
}

type ResultsResponse struct {
	ElectionID    string                    `json:"election_id"`
	Results       map[string]map[string]int `json:"results"`
	LegacyResults map[string]int            `json:"legacy_results,omitempty"`
	TotalVotes    int                       `json:"total_votes"`
}

type VoterStatusResponse struct {
	Email      string `json:"email"`
	ElectionID string `json:"election_id"`
	Registered bool   `json:"registered"`
	Verified   bool   `json:"verified"`
	HasVoted   bool   `json:"has_voted"`
}

type StatusResponse struct {
	BlockCount      int                     `json:"block_count"`
	PendingCount    int                     `json:"pending_count"`
	TotalVotes      int                     `json:"total_votes"`
	ChainValid      bool                    `json:"chain_valid"`
	Difficulty      int                     `json:"difficulty"`
	Miner           string                  `json:"miner"`
	RewardBalance   int64                   `json:"reward_balance"`
	CurrentElection *models.Election        `json:"current_election,omitempty"`
	Metrics         service.MetricsResponse `json:"metrics"`
	LastAudit       *service.AuditReport    `json:"last_audit,omitempty"`
}

type BlockchainResponse struct {
	Blocks   []*models.Block `json:"blocks"`
	Length   int             `json:"length"`
	IsValid  bool            `json:"is_valid"`
	LastHash string          `json:"last_hash"`
}

type ValidationResponse struct {
	Valid  bool   `json:"valid"`
	Blocks int    `json:"blocks"`
	Error  string `json:"error,omitempty"`
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("voting service is required")
	}
	return &Server{
		votingService:   cfg.Service,
		queue:           cfg.Queue,
		registry:        cfg.Registry,
		catalog:         cfg.Catalog,
		auditor:         cfg.Auditor,
		requireVerified: cfg.RequireVerified,
	}, nil
}

// Routes returns the HTTP handler for every endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Elections
	mux.HandleFunc("/api/elections", s.handleElections)
	mux.HandleFunc("/api/elections/current", s.handleCurrentElection)
	mux.HandleFunc("/api/catalog/reload", s.handleReloadCatalog)

	// Voting
	mux.HandleFunc("/api/vote", s.handleCastVote)
	mux.HandleFunc("/api/results", s.handleGetResults)

	// Voters
	mux.HandleFunc("/api/voters/status", s.handleVoterStatus)
	mux.HandleFunc("/api/voters/register", s.handleRegisterVoter)
	mux.HandleFunc("/api/voters/verify", s.handleVerifyVoter)

	// Chain
	mux.HandleFunc("/api/status", s.handleGetStatus)
	mux.HandleFunc("/api/blockchain", s.handleGetBlockchain)
	mux.HandleFunc("/api/blockchain/validate", s.handleValidateChain)

	mux.Handle("/metrics", s.votingService.Metrics().Handler())

	return mux
}

func (s *Server) handleElections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.votingService.Elections())
	case http.MethodPost:
		s.handleCreateElection(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateElection(w http.ResponseWriter, r *http.Request) {
	var req CreateElectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	election, err := s.votingService.CreateElection(req.ID, req.Title, req.Description, req.positions(), req.StartDate, req.EndDate, req.SchoolID)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidElection) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Error("failed to create election", "id", req.ID, "err", err)
		http.Error(w, "Failed to create election", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, election)
}

// positions fills in generated ids. Flat options become the legacy position.
func (req CreateElectionRequest) positions() []models.Position {
	positions := make([]models.Position, 0, len(req.Positions)+1)
	for _, p := range req.Positions {
		position := models.Position{
			ID:          p.ID,
			Title:       p.Title,
			Description: p.Description,
		}
		if position.ID == "" {
			position.ID = uuid.New().String()
		}
		for _, c := range p.Candidates {
			candidate := models.Candidate{
				ID:          c.ID,
				Name:        c.Name,
				Description: c.Description,
				Picture:     c.Picture,
			}
			if candidate.ID == "" {
				candidate.ID = uuid.New().String()
			}
			position.Candidates = append(position.Candidates, candidate)
		}
		positions = append(positions, position)
	}

	if len(req.Options) > 0 {
		positions = append(positions, models.LegacyPosition(req.Options))
	}
	return positions
}

func (s *Server) handleCurrentElection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		election := s.votingService.CurrentElection()
		if election == nil {
			http.Error(w, "No current election", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, election)

	case http.MethodPost:
		var req SetCurrentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.votingService.SetCurrentElection(req.ElectionID); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, s.votingService.CurrentElection())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleReloadCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.catalog == nil {
		http.Error(w, "No catalog source configured", http.StatusNotImplemented)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.votingService.ReloadCatalog(ctx, s.catalog); err != nil {
		logger.Error("catalog reload failed", "err", err)
		http.Error(w, fmt.Sprintf("Failed to reload catalog: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, s.votingService.Elections())
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	voterID := registry.NormalizeEmail(req.VoterID)
	if voterID == "" {
		http.Error(w, "voter_id is required", http.StatusBadRequest)
		return
	}

	positionID, candidateID := req.PositionID, req.CandidateID
	if req.OptionID != "" {
		positionID, candidateID = models.LegacyPositionID, req.OptionID
	}

	current := s.votingService.CurrentElection()
	if current == nil {
		http.Error(w, service.ErrNoCurrentElection.Error(), http.StatusBadRequest)
		return
	}
	if req.ElectionID != "" && req.ElectionID != current.ID {
		http.Error(w, fmt.Sprintf("Election %s is not the current election", req.ElectionID), http.StatusConflict)
		return
	}

	if s.requireVerified && (s.registry == nil || !s.registry.IsVerified(voterID, current.ID)) {
		http.Error(w, "Voter is not verified for this election", http.StatusForbidden)
		return
	}

	var result *service.ProcessingResult
	if s.queue != nil {
		select {
		case result = <-s.queue.QueueVote(voterID, positionID, candidateID):
		case <-r.Context().Done():
			// The vote may still be cast; the client can check its status.
			http.Error(w, "Request cancelled", http.StatusRequestTimeout)
			return
		}
	} else {
		err := s.votingService.CastVote(voterID, positionID, candidateID)
		result = &service.ProcessingResult{
			Success:    err == nil,
			VoterID:    voterID,
			Err:        err,
			BlockCount: s.votingService.BlockCount(),
			Timestamp:  time.Now().UnixMilli(),
		}
		if err != nil {
			result.ErrorMessage = err.Error()
		}
	}

	if !result.Success {
		http.Error(w, result.ErrorMessage, voteErrorStatus(result.Err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func voteErrorStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrDuplicateVote):
		return http.StatusConflict
	case errors.Is(err, service.ErrVoteRejected):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrQueueStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	electionID := r.URL.Query().Get("election_id")
	var election *models.Election
	if electionID == "" {
		election = s.votingService.CurrentElection()
	} else if e, ok := s.votingService.Election(electionID); ok {
		election = e
	}
	if election == nil {
		http.Error(w, "Election not found", http.StatusNotFound)
		return
	}

	results := s.votingService.Results(election.ID)
	response := ResultsResponse{
		ElectionID: election.ID,
		Results:    results,
	}
	for _, counts := range results {
		for _, n := range counts {
			response.TotalVotes += n
		}
	}
	if legacy, ok := results[models.LegacyPositionID]; ok {
		response.LegacyResults = legacy
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleVoterStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	email := registry.NormalizeEmail(r.URL.Query().Get("email"))
	if email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	electionID := r.URL.Query().Get("election_id")
	if electionID == "" {
		if current := s.votingService.CurrentElection(); current != nil {
			electionID = current.ID
		}
	}

	response := VoterStatusResponse{
		Email:      email,
		ElectionID: electionID,
		HasVoted:   s.votingService.HasVoted(email),
	}
	if s.registry != nil {
		response.Registered = s.registry.IsRegistered(email, electionID)
		response.Verified = s.registry.IsVerified(email, electionID)
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRegisterVoter(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeVoterRequest(w, r)
	if !ok {
		return
	}

	if _, exists := s.votingService.Election(req.ElectionID); !exists {
		http.Error(w, fmt.Sprintf("Unknown election %s", req.ElectionID), http.StatusNotFound)
		return
	}

	if err := s.registry.Register(req.Email, req.ElectionID, req.SchoolID); err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleVerifyVoter(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeVoterRequest(w, r)
	if !ok {
		return
	}

	if err := s.registry.Verify(req.Email, req.ElectionID); err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) decodeVoterRequest(w http.ResponseWriter, r *http.Request) (VoterRequest, bool) {
	var req VoterRequest
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if s.registry == nil {
		http.Error(w, "No voter registry configured", http.StatusNotImplemented)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.ElectionID == "" {
		if current := s.votingService.CurrentElection(); current != nil {
			req.ElectionID = current.ID
		}
	}
	return req, true
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidEmail):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrVoterNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		logger.Error("registry operation failed", "err", err)
		http.Error(w, "Registry error", http.StatusInternalServerError)
	}
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := StatusResponse{
		BlockCount:      s.votingService.BlockCount(),
		PendingCount:    s.votingService.PendingCount(),
		TotalVotes:      s.votingService.TotalVotes(),
		ChainValid:      s.votingService.IsChainValid(),
		Difficulty:      s.votingService.Difficulty(),
		Miner:           s.votingService.MinerAddress(),
		RewardBalance:   s.votingService.RewardBalance(),
		CurrentElection: s.votingService.CurrentElection(),
		Metrics:         s.votingService.Metrics().GetMetrics(),
	}
	if s.auditor != nil {
		if report, ok := s.auditor.Last(); ok {
			response.LastAudit = &report
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetBlockchain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	blocks := s.votingService.Blocks()
	response := BlockchainResponse{
		Blocks:  blocks,
		Length:  len(blocks),
		IsValid: s.votingService.IsChainValid(),
	}
	if len(blocks) > 0 {
		response.LastHash = blocks[len(blocks)-1].Hash
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleValidateChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := ValidationResponse{
		Valid:  true,
		Blocks: s.votingService.BlockCount(),
	}
	if err := s.votingService.ValidateChain(); err != nil {
		response.Valid = false
		response.Error = err.Error()
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", "err", err)
	}
}
