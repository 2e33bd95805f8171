package qcontrol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/errnie"
)

/*
Pool is a fixed-size worker pool used to fan pulses out across qubits.
Its size is independent of how many jobs a batch carries: a batch of 500
qubits on an 8-worker pool runs 8 at a time.

Jobs are handed over on an unbuffered channel, so a job is either picked up
by a worker (and its result always reported) or never accepted at all.
*/
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    chan task
	metrics *Metrics
	logger  *log.Logger

	workerMu   sync.Mutex
	workerList []*Worker
	closeOnce  sync.Once
}

/*
NewPool starts a pool with the given number of workers.

Parameters:
  - ctx: parent context; cancelling it stops the workers
  - workers: number of worker goroutines, at least 1
  - metrics: optional sink for job latency, may be nil

Returns:
  - *Pool: a running pool; call Close when done
*/
func NewPool(ctx context.Context, workers int, metrics *Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(chan task),
		metrics:    metrics,
		logger:     log.Default().With("component", "pool"),
		workerList: make([]*Worker, 0, workers),
	}

	for i := 0; i < workers; i++ {
		p.startWorker(i)
	}

	errnie.Info("NewPool - workers %d", workers)
	return p
}

/*
Run executes every job and blocks until all of them have finished. The
returned slice is aligned with jobs; a nil entry means success. One failing
job never prevents the others from running.
*/
func (p *Pool) Run(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))

	var batch sync.WaitGroup
	batch.Add(len(jobs))

	for i, job := range jobs {
		if job.StartTime.IsZero() {
			job.StartTime = time.Now()
		}

		t := task{
			ctx: ctx,
			job: job,
			done: func(res JobResult) {
				errs[i] = res.Err
				batch.Done()
			},
		}

		select {
		case p.jobs <- t:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			batch.Done()
		case <-p.ctx.Done():
			errs[i] = fmt.Errorf("pool closed: %w", p.ctx.Err())
			batch.Done()
		}
	}

	batch.Wait()
	return errs
}

func (p *Pool) Size() int {
	p.workerMu.Lock()
	defer p.workerMu.Unlock()
	return len(p.workerList)
}

func (p *Pool) startWorker(id int) {
	worker := &Worker{
		id:   id,
		pool: p,
	}

	p.workerMu.Lock()
	p.workerList = append(p.workerList, worker)
	p.workerMu.Unlock()

	if p.metrics != nil {
		p.metrics.workerStarted()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		worker.run()
	}()
}

// Close stops the workers and waits for in-flight jobs to report.
func (p *Pool) Close() {
	if p == nil {
		return
	}

	p.closeOnce.Do(func() {
		p.logger.Debug("closing pool")
		p.cancel()
		p.wg.Wait()

		p.workerMu.Lock()
		if p.metrics != nil {
			for range p.workerList {
				p.metrics.workerStopped()
			}
		}
		p.workerList = nil
		p.workerMu.Unlock()
	})
}
