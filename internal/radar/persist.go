package radar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/logger"
	"github.com/cenkalti/backoff/v5"
)

const persistTimeout = 5 * time.Second

type persistJob struct {
	userID string
	bucket geo.Bucket
}

// persister writes the user's bucket in order, keeping only the newest
// pending write.
type persister struct {
	ctx      context.Context
	store    LocationWriter
	attempts int
	initial  time.Duration
	onFail   func(error)
	logger   logger.Logger

	jobs chan persistJob
	wg   sync.WaitGroup
}

func newPersister(ctx context.Context, store LocationWriter, attempts int, initial time.Duration, onFail func(error), log logger.Logger) *persister {
	p := &persister{
		ctx:      ctx,
		store:    store,
		attempts: attempts,
		initial:  initial,
		onFail:   onFail,
		logger:   log,
		jobs:     make(chan persistJob, 1),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// enqueue must only be called from the loop goroutine.
func (p *persister) enqueue(userID string, bucket geo.Bucket) {
	job := persistJob{userID: userID, bucket: bucket}
	for {
		select {
		case p.jobs <- job:
			return
		default:
		}
		// replace the write that has not started yet
		select {
		case <-p.jobs:
		default:
		}
	}
}

func (p *persister) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			p.write(job)
		}
	}
}

func (p *persister) write(job persistJob) {
	op := func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(p.ctx, persistTimeout)
		defer cancel()
		return struct{}{}, p.store.UpdateUserLocation(ctx, job.userID, job.bucket)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial

	_, err := backoff.Retry(p.ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.attempts)),
	)
	if err == nil {
		return
	}
	if p.ctx.Err() != nil {
		return
	}

	p.logger.Error("Failed to save location", "user_id", job.userID, "bucket", job.bucket.Key(), "error", err)
	p.onFail(fmt.Errorf("%w: %w", apperrors.ErrWriteFailed, err))
}

func (p *persister) wait() {
	p.wg.Wait()
}
