// Package jobs runs the service's background work: tasks that keep going until
// shutdown and can be canceled and waited on together.
package jobs

import (
	"context"
	"errors"
	"time"

	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tutorials_job_runs_total",
	Help: "Runs of periodic background jobs, by job and outcome.",
}, []string{"job", "outcome"})

// A Job tracks one background goroutine. The goroutine watches Canceled and
// calls Finish when it is done; everyone else calls Cancel and waits on
// Finished.
type Job struct {
	Name   string
	Ctx    context.Context
	Logger zerolog.Logger
	cancel func()
	done   chan struct{}
}

func New(name string) *Job {
	logger := logging.With().Str("job", name).Logger()
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logging.AttachLoggerToContext(&logger, ctx)
	return &Job{
		Name:   name,
		Ctx:    ctx,
		Logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (j *Job) Cancel() {
	j.cancel()
}

func (j *Job) Canceled() <-chan struct{} {
	return j.Ctx.Done()
}

// Called by the job itself once its goroutine has nothing left to do.
func (j *Job) Finish() *Job {
	close(j.done)
	return j
}

func (j *Job) Finished() <-chan struct{} {
	return j.done
}

// Every starts a job that calls work right away and then once per interval
// until canceled. A failing or panicking run is logged and the next one
// still happens.
func Every(name string, interval time.Duration, work func(ctx context.Context) error) *Job {
	job := New(name)
	go func() {
		defer job.Finish()

		t := newInstaTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				job.run(work)
			case <-job.Canceled():
				return
			}
		}
	}()
	return job
}

func (j *Job) run(work func(ctx context.Context) error) {
	err := func() (err error) {
		defer utils.RecoverPanicAsError(&err)
		return work(j.Ctx)
	}()
	switch {
	case err == nil:
		jobRuns.WithLabelValues(j.Name, "ok").Inc()
	case errors.Is(err, context.Canceled):
		// shutting down
	default:
		jobRuns.WithLabelValues(j.Name, "error").Inc()
		j.Logger.Error().Err(err).Msg("Background job run failed")
	}
}

// Jobs cancels and waits on several jobs at once. It is a plain slice, so
// build it with slice syntax.
type Jobs []*Job

// CancelAndWait cancels every job and waits until they all finish or the
// timeout passes. It returns the names of the jobs still running.
func (jobs Jobs) CancelAndWait(timeout time.Duration) []string {
	for _, job := range jobs {
		job.Cancel()
	}

	allDone := make(chan struct{})
	go func() {
		for _, job := range jobs {
			<-job.Finished()
		}
		close(allDone)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return jobs.ListUnfinished()
	case <-allDone:
		return nil
	}
}

func (jobs Jobs) ListUnfinished() []string {
	unfinished := []string{}
	for _, job := range jobs {
		select {
		case <-job.Finished():
		default:
			unfinished = append(unfinished, job.Name)
		}
	}
	return unfinished
}
