// Package moderation implements the content-inspection pipeline applied
// to outbound chat messages. The synchronous portion (the Chain) runs
// before a message is persisted; background classification runs after
// persistence via a queued task and never blocks the send path.
package moderation

import (
	"fmt"
)

// ContentRejectedError aborts a send before persistence. Reason is safe
// to surface to the sender.
type ContentRejectedError struct {
	Reason string
}

func (e *ContentRejectedError) Error() string {
	return fmt.Sprintf("content rejected: %s", e.Reason)
}

// Inspector examines candidate message content. A nil return means pass;
// a *ContentRejectedError means reject; any other error is an inspector
// failure and is treated as a rejection by the chain.
type Inspector interface {
	Inspect(content string, userId int) error
}

// Chain runs inspectors in order and short-circuits on the first
// rejection. Adding a new synchronous check means appending (or
// inserting) an Inspector here.
type Chain struct {
	inspectors []Inspector
}

func NewChain(inspectors ...Inspector) *Chain {
	return &Chain{inspectors: inspectors}
}

func (c *Chain) Inspect(content string, userId int) error {
	for _, ins := range c.inspectors {
		if err := ins.Inspect(content, userId); err != nil {
			return err
		}
	}
	return nil
}
