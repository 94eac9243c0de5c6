// Package scheduler runs the periodic maintenance jobs: idle session reaping
// and audit retention purging.
package scheduler

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Reaper evicts idle sessions and reports how many it removed.
type Reaper interface {
	Reap() int
}

// Purger deletes audit records past their retention period.
type Purger interface {
	PurgeOlderThan(days int) (int64, error)
}

// Scheduler wraps a cron runner with the jobs registered on it.
type Scheduler struct {
	cron *cron.Cron
}

// New returns an empty Scheduler. Job panics are recovered and logged.
func New() *Scheduler {
	logger := cron.PrintfLogger(log.Default())
	return &Scheduler{
		cron: cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
	}
}

// AddReaper schedules r on schedule, for example "@every 1m".
func (s *Scheduler) AddReaper(schedule string, r Reaper) error {
	_, err := s.cron.AddFunc(schedule, func() { ReapOnce(r) })
	if err != nil {
		return fmt.Errorf("schedule session reaper %q: %w", schedule, err)
	}
	return nil
}

// AddPurge schedules p on schedule using its configured retention.
func (s *Scheduler) AddPurge(schedule string, p Purger) error {
	_, err := s.cron.AddFunc(schedule, func() { PurgeOnce(p) })
	if err != nil {
		return fmt.Errorf("schedule audit purge %q: %w", schedule, err)
	}
	return nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// ReapOnce runs one reaper pass.
func ReapOnce(r Reaper) int {
	n := r.Reap()
	if n > 0 {
		log.Printf("[scheduler] reaped %d idle session(s)", n)
	}
	return n
}

// PurgeOnce runs one purge pass with the default retention.
func PurgeOnce(p Purger) int64 {
	n, err := p.PurgeOlderThan(0)
	if err != nil {
		log.Printf("[scheduler] audit purge failed: %v", err)
		return 0
	}
	return n
}
