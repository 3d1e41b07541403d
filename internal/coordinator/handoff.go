package coordinator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/tasknet/internal/taskstore"
)

// ClaimTask selects the first pending task in lexicographic order, moves it to
// in-flight, and returns its name and archive bytes.
//
// Listing and moving happen together under the coordinator lock; reading the
// archive happens after the lock is released. If the read fails the task stays
// in-flight and the error is returned.
//
// Returns ErrNoTaskAvailable when nothing is pending.
func (c *Coordinator) ClaimTask() (string, []byte, error) {
	c.mu.Lock()
	name, err := c.claimNextLocked()
	c.mu.Unlock()
	if err != nil {
		return "", nil, err
	}

	data, err := c.store.Read(name)
	if err != nil {
		return name, nil, fmt.Errorf("read claimed task %s: %w", name, err)
	}
	return name, data, nil
}

func (c *Coordinator) claimNextLocked() (string, error) {
	pending, err := c.store.Pending()
	if err != nil {
		return "", fmt.Errorf("list pending tasks: %w", err)
	}
	if len(pending) == 0 {
		return "", ErrNoTaskAvailable
	}
	name := pending[0]
	if err := c.store.Claim(name); err != nil {
		return "", fmt.Errorf("claim %s: %w", name, err)
	}
	return name, nil
}

// SubmitResult records data as the result for task name and clears its
// in-flight entry. Any caller may submit for any name, and a later submission
// replaces an earlier one.
func (c *Coordinator) SubmitResult(name string, data []byte) error {
	if err := taskstore.ValidateName(name); err != nil {
		return err
	}
	if err := c.store.PutResult(name, data); err != nil {
		return fmt.Errorf("store result for %s: %w", name, err)
	}

	c.mu.Lock()
	existed, err := c.store.Complete(name)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("complete %s: %w", name, err)
	}
	if !existed {
		c.log.Debug("result for task not in flight", zap.String("task", name))
	}
	return nil
}
