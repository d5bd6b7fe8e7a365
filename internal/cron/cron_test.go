package cron

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/agorachat/agora/internal/testutil"
	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls atomic.Int64
}

func (c *countingSweeper) ExpireSweep(now time.Time) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func (c *countingSweeper) CloseExpired(now time.Time) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestScheduler(t *testing.T) {
	joinSweeps := &countingSweeper{}
	pollSweeps := &countingSweeper{}

	s, err := NewScheduler(10*time.Millisecond, joinSweeps, pollSweeps, testutil.TestLogger(t))
	assert.NoError(t, err)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return joinSweeps.calls.Load() > 0 && pollSweeps.calls.Load() > 0
	}, time.Second, 10*time.Millisecond, "expected both sweeps to run")
}
