package dualsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"campusattend/internal/queue"
)

// Syncer is what a worker runs per job.
type Syncer interface {
	Sync(ctx context.Context, studentID, sessionID string) Outcome
}

// Pool drains sync jobs with a fixed number of workers.
type Pool struct {
	q          queue.Queue
	syncer     Syncer
	workers    int
	jobTimeout time.Duration
	log        *zap.Logger
}

// NewPool creates a pool. workers and jobTimeout fall back to 4 and 30s.
func NewPool(q queue.Queue, s Syncer, workers int, jobTimeout time.Duration, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{q: q, syncer: s, workers: workers, jobTimeout: jobTimeout, log: log}
}

// Run blocks until ctx is cancelled and every worker has finished its current job.
func (p *Pool) Run(ctx context.Context) error {
	msgs, err := p.q.Consume(ctx)
	if err != nil {
		return err
	}
	p.log.Info("sync workers started", zap.Int("workers", p.workers))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for msg := range msgs {
				p.handle(ctx, worker, msg)
			}
		}(i)
	}
	wg.Wait()
	p.log.Info("sync workers stopped")
	return nil
}

func (p *Pool) handle(ctx context.Context, worker int, msg queue.Message) {
	job, err := queue.DecodeSyncJob(msg)
	if err != nil {
		p.log.Warn("skipping message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	// an in-flight job outlives shutdown up to its own deadline
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobTimeout)
	defer cancel()

	out := p.syncer.Sync(jctx, job.StudentID, job.SessionID)
	if !out.Success {
		p.log.Warn("sync incomplete",
			zap.Int("worker", worker),
			zap.String("attendance_id", job.AttendanceID),
			zap.String("mirror_kind", string(out.Mirror.Kind)),
			zap.String("portal_kind", string(out.Portal.Kind)),
			zap.String("error", out.Error))
	}
}
