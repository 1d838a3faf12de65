// Package scheduler runs the analysis jobs on their own periods, enforcing
// one run at a time per job and recording every trigger in the run log.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// JobFunc executes one run and returns a short detail string for the log.
type JobFunc func(ctx context.Context) (string, error)

// Job is a named periodic task.
type Job struct {
	Name   string
	Period time.Duration
	Fn     JobFunc

	inFlight atomic.Bool
}

// Scheduler owns a set of jobs and their tickers.
type Scheduler struct {
	db   *storage.DB
	jobs []*Job
}

// New creates a scheduler recording runs into the given store.
func New(db *storage.DB) *Scheduler {
	return &Scheduler{db: db}
}

// Add registers a job. Not safe to call after Run has started.
func (s *Scheduler) Add(name string, period time.Duration, fn JobFunc) {
	s.jobs = append(s.jobs, &Job{Name: name, Period: period, Fn: fn})
}

// Run triggers every job once at startup, then on its own ticker until the
// context is cancelled. Blocks until all job goroutines have stopped.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			log.Printf("[scheduler] job %s every %s", j.Name, j.Period)
			s.Trigger(ctx, j)

			ticker := time.NewTicker(j.Period)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.Trigger(ctx, j)
				}
			}
		}(j)
	}
	wg.Wait()
}

// RunOnce triggers every job sequentially, for one-shot invocations. The
// first job failure stops the sequence.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	for _, j := range s.jobs {
		if err := s.Trigger(ctx, j); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
	}
	return nil
}

// Trigger runs a job if it is not already running, recording the outcome.
// A trigger that finds the previous run still in flight is skipped, never
// queued. A panicking job is recovered and recorded as failed.
func (s *Scheduler) Trigger(ctx context.Context, j *Job) error {
	started := time.Now()
	if !j.inFlight.CompareAndSwap(false, true) {
		log.Printf("[scheduler] job %s still running, skipping trigger", j.Name)
		s.record(j.Name, started, storage.RunSkipped, "previous run in flight")
		return nil
	}
	defer j.inFlight.Store(false)

	var detail string
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		detail, err = j.Fn(ctx)
	}()

	if err != nil {
		log.Printf("[scheduler] job %s failed after %s: %v", j.Name, time.Since(started).Round(time.Millisecond), err)
		s.record(j.Name, started, storage.RunFailed, err.Error())
		return err
	}
	log.Printf("[scheduler] job %s completed in %s", j.Name, time.Since(started).Round(time.Millisecond))
	s.record(j.Name, started, storage.RunCompleted, detail)
	return nil
}

func (s *Scheduler) record(name string, started time.Time, status, detail string) {
	err := s.db.InsertRunLog(&storage.RunLog{
		ID:         uuid.New().String(),
		Component:  name,
		StartedAt:  started.Unix(),
		FinishedAt: time.Now().Unix(),
		Status:     status,
		Detail:     detail,
	})
	if err != nil {
		log.Printf("[scheduler] recording run of %s: %v", name, err)
	}
}
