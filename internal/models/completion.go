package models

import "sync"

// Completion is a one-shot handle for the result of a queued job. The
// executor resolves or fails it exactly once; any number of goroutines may
// wait on Done. Resolving an already-settled handle is a no-op.
type Completion struct {
	once    sync.Once
	done    chan struct{}
	outputs Outputs
	order   []string
	err     error
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolve settles the handle with the job's outputs. order is the node
// execution order, so consumers can pick the most recent artifact.
func (c *Completion) Resolve(outputs Outputs, order []string) {
	c.once.Do(func() {
		c.outputs = outputs
		c.order = order
		close(c.done)
	})
}

// Fail settles the handle with an error.
func (c *Completion) Fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the handle is settled.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Result returns the settled outputs, node execution order, and error.
// Only valid after Done is closed.
func (c *Completion) Result() (Outputs, []string, error) {
	return c.outputs, c.order, c.err
}
