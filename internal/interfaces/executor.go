package interfaces

import (
	"github.com/tuyendl123/ComfyUI/internal/models"
)

// Executor is the work-queue side of the gateway. The HTTP surface never
// touches execution internals directly; it enqueues validated items and
// observes completion through each item's Completion handle.
type Executor interface {
	// Enqueue adds a validated item to the pending queue and returns the
	// sequence number assigned for tie-breaking.
	Enqueue(item *models.QueueItem) uint64

	// CurrentQueue returns point-in-time copies of the running and pending
	// sets, pending in execution order.
	CurrentQueue() (running []models.QueueItem, pending []models.QueueItem)

	// TasksRemaining counts running plus pending work.
	TasksRemaining() int

	// WipeQueue discards all pending work. Running work is unaffected.
	WipeQueue()

	// DeleteQueueItem removes pending items matching the predicate.
	DeleteQueueItem(match func(item *models.QueueItem) bool)

	// Validate checks a graph for structural errors without enqueueing it.
	// On failure the error is a *models.ValidationError. On success it
	// returns the output-node IDs execution will target.
	Validate(graph models.Graph) ([]string, error)

	// Interrupt requests cancellation of the currently running job.
	Interrupt()
}
