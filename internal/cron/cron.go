// Package cron drives the periodic sweeps: join-request expiry and
// overdue poll closing. The services expose pure transition methods;
// all timing lives here.
package cron

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// JoinRequestSweeper expires overdue pending join requests.
type JoinRequestSweeper interface {
	ExpireSweep(now time.Time) (int, error)
}

// PollSweeper closes active polls whose voting window has passed.
type PollSweeper interface {
	CloseExpired(now time.Time) (int, error)
}

type Scheduler struct {
	scheduler *gocron.Scheduler
	log       *log.Logger
}

func NewScheduler(interval time.Duration, joinRequests JoinRequestSweeper, polls PollSweeper, logger *log.Logger) (*Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)

	if _, err := s.Every(interval).Do(func() {
		n, err := joinRequests.ExpireSweep(time.Now())
		if err != nil {
			logger.Printf("join request sweep: %v", err)
			return
		}
		if n > 0 {
			logger.Printf("join request sweep: expired %d requests", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule join request sweep: %w", err)
	}

	if _, err := s.Every(interval).Do(func() {
		n, err := polls.CloseExpired(time.Now())
		if err != nil {
			logger.Printf("poll sweep: %v", err)
			return
		}
		if n > 0 {
			logger.Printf("poll sweep: closed %d polls", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule poll sweep: %w", err)
	}

	return &Scheduler{scheduler: s, log: logger}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
