package service

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"voting-core/encryption"
	"voting-core/models"
)

var (
	ErrQueueFull    = errors.New("queue is full")
	ErrQueueStopped = errors.New("queue is stopped")
)

// QueueProcessor runs registrations and casts on a pool of workers so
// different voters proceed in parallel.
type QueueProcessor struct {
	votingService  *VotingService
	registrationCh chan *RegistrationRequest
	voteCh         chan *VoteRequest
	processingWg   sync.WaitGroup
	shutdownCh     chan struct{}
	stopOnce       sync.Once

	// mu orders enqueues against Stop so nothing lands after the drain.
	mu  sync.RWMutex
	log zerolog.Logger
}

// RegistrationRequest is a queued voter registration.
type RegistrationRequest struct {
	ID       string
	Code     string
	ResultCh chan<- *RegistrationResult
}

type RegistrationResult struct {
	Identity *models.VoterIdentity
	Err      error
}

// VoteRequest is a queued cast.
type VoteRequest struct {
	Ctx         context.Context
	ElectionID  string
	CandidateID string
	Key         *encryption.PrivateKey
	ResultCh    chan<- *VoteResult
}

type VoteResult struct {
	Outcome *CastOutcome
	Err     error
}

func NewQueueProcessor(votingService *VotingService, queueSize int, logger zerolog.Logger) *QueueProcessor {
	return &QueueProcessor{
		votingService:  votingService,
		registrationCh: make(chan *RegistrationRequest, queueSize),
		voteCh:         make(chan *VoteRequest, queueSize),
		shutdownCh:     make(chan struct{}),
		log:            logger.With().Str("component", "queue").Logger(),
	}
}

// Start launches one registration worker and the given number of vote
// workers.
func (qp *QueueProcessor) Start(voteWorkers int) {
	if voteWorkers <= 0 {
		voteWorkers = 1
	}

	qp.processingWg.Add(1)
	go qp.registrationWorker()

	for i := 0; i < voteWorkers; i++ {
		qp.processingWg.Add(1)
		go qp.voteWorker()
	}
}

// Stop waits for in-flight requests. Requests still queued are answered
// with context.Canceled.
func (qp *QueueProcessor) Stop() {
	qp.stopOnce.Do(func() {
		qp.mu.Lock()
		close(qp.shutdownCh)
		qp.mu.Unlock()
	})
	qp.processingWg.Wait()

	for {
		select {
		case req := <-qp.registrationCh:
			req.ResultCh <- &RegistrationResult{Err: context.Canceled}
			close(req.ResultCh)
		case req := <-qp.voteCh:
			req.ResultCh <- &VoteResult{Err: context.Canceled}
			close(req.ResultCh)
		default:
			return
		}
	}
}

// QueueRegistration enqueues a registration. A full queue answers
// immediately with ErrQueueFull.
func (qp *QueueProcessor) QueueRegistration(id, code string) <-chan *RegistrationResult {
	resultCh := make(chan *RegistrationResult, 1)
	qp.mu.RLock()
	defer qp.mu.RUnlock()

	if qp.stopped() {
		resultCh <- &RegistrationResult{Err: ErrQueueStopped}
		close(resultCh)
		return resultCh
	}

	select {
	case qp.registrationCh <- &RegistrationRequest{ID: id, Code: code, ResultCh: resultCh}:
	default:
		resultCh <- &RegistrationResult{Err: ErrQueueFull}
		close(resultCh)
	}
	return resultCh
}

// QueueVote enqueues a cast. A full queue answers immediately with
// ErrQueueFull.
func (qp *QueueProcessor) QueueVote(ctx context.Context, electionID, candidateID string, key *encryption.PrivateKey) <-chan *VoteResult {
	resultCh := make(chan *VoteResult, 1)
	qp.mu.RLock()
	defer qp.mu.RUnlock()

	if qp.stopped() {
		resultCh <- &VoteResult{Err: ErrQueueStopped}
		close(resultCh)
		return resultCh
	}

	select {
	case qp.voteCh <- &VoteRequest{
		Ctx:         ctx,
		ElectionID:  electionID,
		CandidateID: candidateID,
		Key:         key,
		ResultCh:    resultCh,
	}:
	default:
		qp.log.Warn().Str("election", electionID).Msg("vote queue is full")
		resultCh <- &VoteResult{Err: ErrQueueFull}
		close(resultCh)
	}
	return resultCh
}

func (qp *QueueProcessor) stopped() bool {
	select {
	case <-qp.shutdownCh:
		return true
	default:
		return false
	}
}

func (qp *QueueProcessor) registrationWorker() {
	defer qp.processingWg.Done()

	for {
		select {
		case <-qp.shutdownCh:
			return
		case req := <-qp.registrationCh:
			identity, err := qp.votingService.RegisterVoter(req.ID, req.Code)
			req.ResultCh <- &RegistrationResult{Identity: identity, Err: err}
			close(req.ResultCh)
		}
	}
}

func (qp *QueueProcessor) voteWorker() {
	defer qp.processingWg.Done()

	for {
		select {
		case <-qp.shutdownCh:
			return
		case req := <-qp.voteCh:
			ctx := req.Ctx
			if ctx == nil {
				ctx = context.Background()
			}
			outcome, err := qp.votingService.CastVote(ctx, req.ElectionID, req.CandidateID, req.Key)
			req.ResultCh <- &VoteResult{Outcome: outcome, Err: err}
			close(req.ResultCh)
		}
	}
}
