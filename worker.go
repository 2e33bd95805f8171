package qcontrol

import (
	"fmt"
	"time"
)

// Worker executes jobs handed to it by its pool.
type Worker struct {
	id   int
	pool *Pool
}

func (w *Worker) run() {
	for {
		select {
		case <-w.pool.ctx.Done():
			return
		case t := <-w.pool.jobs:
			t.done(w.processJob(t))
		}
	}
}

func (w *Worker) processJob(t task) (res JobResult) {
	res.ID = t.job.ID

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("job %s panicked: %v", t.job.ID, r)
			w.pool.logger.Error("job panicked", "worker", w.id, "job", t.job.ID, "panic", r)
		}

		res.Duration = time.Since(t.job.StartTime)
		if w.pool.metrics != nil {
			w.pool.metrics.recordJobExecution(t.job.StartTime, res.Err == nil)
		}
	}()

	if err := t.ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	res.Err = t.job.Fn(t.ctx)
	return res
}
