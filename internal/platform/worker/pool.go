// Package worker provides a fixed-size worker pool for bounded fan-out.
package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed by a worker.
type Job struct {
	// ID identifies the job in results and logs
	ID string
	// Execute runs the job with the pool's context
	Execute func(ctx context.Context) (any, error)
}

// Result represents the outcome of a job execution.
type Result struct {
	JobID string
	Value any
	Err   error
	index int
}

// Pool runs submitted jobs on a fixed number of goroutines.
type Pool struct {
	workers int
	jobs    chan indexedJob
	results chan Result
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

type indexedJob struct {
	Job
	index int
}

// NewPool starts workers goroutines immediately.
//
//	pool := worker.NewPool(ctx, 4, 16)
//	defer pool.Close()
//	results := pool.SubmitAndWait(jobs)
func NewPool(ctx context.Context, workers int, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers: workers,
		jobs:    make(chan indexedJob, queueSize),
		results: make(chan Result, queueSize),
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok || p.ctx.Err() != nil {
				return
			}
			value, err := job.Execute(p.ctx)
			select {
			case p.results <- Result{JobID: job.ID, Value: value, Err: err, index: job.index}:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job, blocking while the queue is full.
func (p *Pool) Submit(job Job) error {
	return p.submit(indexedJob{Job: job, index: -1})
}

func (p *Pool) submit(job indexedJob) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// SubmitAndWait runs jobs and returns their results in submission order.
// Jobs that never ran because the pool was cancelled report the context error.
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		results[i] = Result{JobID: job.ID, index: i}
	}

	done := make([]bool, len(jobs))
	go func() {
		for i, job := range jobs {
			if err := p.submit(indexedJob{Job: job, index: i}); err != nil {
				return
			}
		}
	}()

	for received := 0; received < len(jobs); {
		select {
		case <-p.ctx.Done():
			for i := range results {
				if !done[i] {
					results[i].Err = p.ctx.Err()
				}
			}
			return results
		case r := <-p.results:
			if r.index >= 0 && r.index < len(results) {
				results[r.index] = r
				done[r.index] = true
			}
			received++
		}
	}

	return results
}

// Results streams outcomes of jobs queued with Submit.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting work and waits for running jobs to finish.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
		close(p.results)
	})
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}
