package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"voting-ledger/logger"
)

var (
	ErrQueueFull    = errors.New("vote queue is full")
	ErrQueueStopped = errors.New("vote queue is stopped")
)

// QueueProcessor feeds votes to the facade from a single worker goroutine.
// Callers get a result channel instead of blocking on sealing.
type QueueProcessor struct {
	votingService   *VotingService
	voteCh          chan *VoteRequest
	processingWg    sync.WaitGroup
	shutdownCh      chan struct{}
	processingDelay time.Duration // For benchmarking purposes

	mu      sync.RWMutex
	stopped bool
}

// VoteRequest represents a queued vote casting request
type VoteRequest struct {
	ID          string
	VoterID     string
	PositionID  string
	CandidateID string
	ResultCh    chan<- *ProcessingResult
}

// ProcessingResult contains the result of an asynchronous operation
type ProcessingResult struct {
	RequestID    string `json:"request_id"`
	Success      bool   `json:"success"`
	VoterID      string `json:"voter_id,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
	Err          error  `json:"-"`
	BlockCount   int    `json:"block_count,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
}

func NewQueueProcessor(votingService *VotingService, queueSize int, processingDelay time.Duration) *QueueProcessor {
	return &QueueProcessor{
		votingService:   votingService,
		voteCh:          make(chan *VoteRequest, queueSize),
		shutdownCh:      make(chan struct{}),
		processingDelay: processingDelay,
	}
}

// Start begins processing queued votes
func (qp *QueueProcessor) Start() {
	qp.processingWg.Add(1)
	go qp.voteWorker()
}

// Stop waits for the vote in progress, then fails every request still queued.
func (qp *QueueProcessor) Stop() {
	qp.mu.Lock()
	if qp.stopped {
		qp.mu.Unlock()
		return
	}
	qp.stopped = true
	qp.mu.Unlock()

	close(qp.shutdownCh)
	qp.processingWg.Wait()
	qp.drain()
}

// QueueVote adds a vote casting request to the processing queue
func (qp *QueueProcessor) QueueVote(voterID, positionID, candidateID string) <-chan *ProcessingResult {
	resultCh := make(chan *ProcessingResult, 1)
	req := &VoteRequest{
		ID:          uuid.New().String(),
		VoterID:     voterID,
		PositionID:  positionID,
		CandidateID: candidateID,
		ResultCh:    resultCh,
	}

	qp.mu.RLock()
	defer qp.mu.RUnlock()

	if qp.stopped {
		reply(req, ErrQueueStopped, 0)
		return resultCh
	}

	select {
	case qp.voteCh <- req:
		qp.votingService.metrics.SetQueueDepth(len(qp.voteCh))
	default:
		// Queue is full, return immediate error
		logger.Warn("vote queue is full", "voter", voterID, "request", req.ID)
		reply(req, ErrQueueFull, 0)
	}
	return resultCh
}

// BatchQueueVotes adds multiple vote requests to the queue
func (qp *QueueProcessor) BatchQueueVotes(requests []VoteRequest) []<-chan *ProcessingResult {
	resultChannels := make([]<-chan *ProcessingResult, len(requests))
	for i, req := range requests {
		resultChannels[i] = qp.QueueVote(req.VoterID, req.PositionID, req.CandidateID)
	}
	return resultChannels
}

func (qp *QueueProcessor) voteWorker() {
	defer qp.processingWg.Done()

	for {
		select {
		case <-qp.shutdownCh:
			return
		case req := <-qp.voteCh:
			qp.votingService.metrics.SetQueueDepth(len(qp.voteCh))

			// Add artificial delay for benchmarking if needed
			if qp.processingDelay > 0 {
				time.Sleep(qp.processingDelay)
			}

			err := qp.votingService.CastVote(req.VoterID, req.PositionID, req.CandidateID)
			reply(req, err, qp.votingService.BlockCount())
		}
	}
}

func (qp *QueueProcessor) drain() {
	for {
		select {
		case req := <-qp.voteCh:
			reply(req, ErrQueueStopped, 0)
		default:
			qp.votingService.metrics.SetQueueDepth(0)
			return
		}
	}
}

func reply(req *VoteRequest, err error, blockCount int) {
	result := &ProcessingResult{
		RequestID:  req.ID,
		Success:    err == nil,
		VoterID:    req.VoterID,
		Err:        err,
		BlockCount: blockCount,
		Timestamp:  time.Now().UnixMilli(),
	}
	if err != nil {
		result.ErrorMessage = err.Error()
	}
	req.ResultCh <- result
	close(req.ResultCh)
}
