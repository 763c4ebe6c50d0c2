package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/repofeed/internal/domain/port/driven"
	"github.com/ericfisherdev/repofeed/internal/jobqueue"
)

// ErrAdmissionClosed is returned by Submit once the admission loop has stopped.
var ErrAdmissionClosed = errors.New("admission service closed")

// JobQueue is the part of the job queue the admission service needs.
type JobQueue interface {
	AddJob(job jobqueue.Job) error
}

// AdmissionService gates queries on reachability and hands the admitted ones
// to the job queue. Submissions are processed one at a time, in order, on the
// goroutine running Run.
//
// Reachability is sampled once per query; the network may change between the
// probe and the enqueue.
type AdmissionService struct {
	queue  JobQueue
	probe  driven.ReachabilityProbe
	deps   QueryDeps
	logger *slog.Logger

	mu      sync.Mutex
	pending []Query
	signal  chan struct{}
	closed  bool
}

// NewAdmissionService creates an admission service. deps are injected into
// every submitted query.
func NewAdmissionService(queue JobQueue, probe driven.ReachabilityProbe, deps QueryDeps, logger *slog.Logger) *AdmissionService {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &AdmissionService{
		queue:  queue,
		probe:  probe,
		deps:   deps,
		logger: logger,
		signal: make(chan struct{}, 1),
	}
}

// Submit queues q for admission and returns immediately. After the service
// has stopped, q is finished as failed and ErrAdmissionClosed is returned.
// A query that has left the created state is refused with ErrQueryConsumed
// and keeps its outcome.
func (s *AdmissionService) Submit(q Query) error {
	if q == nil {
		return errors.New("submit: nil query")
	}
	if st := q.State(); st != QueryCreated {
		return fmt.Errorf("submit query %s in state %s: %w", q.ID(), st, ErrQueryConsumed)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		q.Inject(s.deps)
		err := fmt.Errorf("submit query %s: %w", q.ID(), ErrAdmissionClosed)
		q.OnFinished(context.Background(), err)
		return err
	}
	s.pending = append(s.pending, q)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return nil
}

// Run admits submitted queries until ctx is canceled. Queries still pending
// at that point are finished as failed.
func (s *AdmissionService) Run(ctx context.Context) error {
	s.logger.Info("admission service started")

	for {
		for {
			q, ok := s.next()
			if !ok {
				break
			}
			s.admit(ctx, q)
		}

		select {
		case <-ctx.Done():
			s.stop()
			s.logger.Info("admission service stopped")
			return nil
		case <-s.signal:
		}
	}
}

func (s *AdmissionService) next() (Query, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil, false
	}
	q := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return q, true
}

func (s *AdmissionService) stop() {
	s.mu.Lock()
	s.closed = true
	stranded := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, q := range stranded {
		q.Inject(s.deps)
		q.OnFinished(context.Background(), fmt.Errorf("query %s: %w", q.ID(), ErrAdmissionClosed))
	}
}

// admit decides the fate of one query.
func (s *AdmissionService) admit(ctx context.Context, q Query) {
	if st := q.State(); st != QueryCreated {
		s.logger.Warn("consumed query skipped", "query_id", q.ID(), "state", st.String())
		return
	}
	q.Inject(s.deps)

	if q.RequiresNetwork() && !q.Persistent() && !s.probe.IsReachable(ctx) {
		s.logger.Info("query rejected, network unreachable", "query_id", q.ID())
		q.OnAdmissionRejected(ctx)
		return
	}

	if err := s.queue.AddJob(q); err != nil {
		s.logger.Error("enqueue query failed", "query_id", q.ID(), "error", err)
		q.OnFinished(ctx, fmt.Errorf("enqueue query %s: %w", q.ID(), err))
		return
	}

	s.logger.Debug("query enqueued", "query_id", q.ID(), "priority", q.Priority().String())
}
