package qcontrol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	. "github.com/smartystreets/goconvey/convey"
)

const timeoutMsg = "Test timed out waiting for job result"

func TestWorker(t *testing.T) {
	Convey("Given a worker attached to a bare pool", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		pool := &Pool{
			ctx:     ctx,
			cancel:  cancel,
			jobs:    make(chan task),
			metrics: NewMetrics(nil),
			logger:  log.Default().With("component", "pool"),
		}
		worker := &Worker{id: 7, pool: pool}

		stopped := make(chan struct{})
		go func() {
			worker.run()
			close(stopped)
		}()

		Reset(func() {
			cancel()
			<-stopped
		})

		submit := func(jobCtx context.Context, job Job) JobResult {
			results := make(chan JobResult, 1)
			job.StartTime = time.Now()
			pool.jobs <- task{ctx: jobCtx, job: job, done: func(res JobResult) { results <- res }}

			select {
			case <-time.After(2 * time.Second):
				t.Fatal(timeoutMsg)
				return JobResult{}
			case res := <-results:
				return res
			}
		}

		Convey("It should process a job successfully", func() {
			res := submit(context.Background(), Job{
				ID: "pulse_ok",
				Fn: func(context.Context) error { return nil },
			})

			So(res.ID, ShouldEqual, "pulse_ok")
			So(res.Err, ShouldBeNil)
			So(pool.metrics.JobCount, ShouldEqual, int64(1))
		})

		Convey("It should hand back the job's error", func() {
			fault := errors.New("drive line open")
			res := submit(context.Background(), Job{
				ID: "pulse_fault",
				Fn: func(context.Context) error { return fault },
			})

			So(res.Err, ShouldEqual, fault)
			So(pool.metrics.FailedJobs, ShouldEqual, int64(1))
		})

		Convey("It should recover from a panicking job and keep serving", func() {
			res := submit(context.Background(), Job{
				ID: "pulse_panic",
				Fn: func(context.Context) error { panic("sequencer underrun") },
			})

			So(res.Err, ShouldNotBeNil)
			So(res.Err.Error(), ShouldContainSubstring, "sequencer underrun")

			next := submit(context.Background(), Job{
				ID: "pulse_after",
				Fn: func(context.Context) error { return nil },
			})
			So(next.Err, ShouldBeNil)
		})

		Convey("It should skip a job whose context is already done", func() {
			jobCtx, jobCancel := context.WithCancel(context.Background())
			jobCancel()

			ran := false
			res := submit(jobCtx, Job{
				ID: "pulse_cancelled",
				Fn: func(context.Context) error {
					ran = true
					return nil
				},
			})

			So(errors.Is(res.Err, context.Canceled), ShouldBeTrue)
			So(ran, ShouldBeFalse)
		})

		Convey("It should stop when the pool is cancelled", func() {
			cancel()

			select {
			case <-time.After(2 * time.Second):
				t.Fatal(timeoutMsg)
			case <-stopped:
			}
		})
	})
}
