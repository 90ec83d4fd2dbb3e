package models

// QueueItem is a unit of work handed to the executor. Number is the
// client-visible priority (lower runs first; front-of-queue submissions use
// negated counter values). Seq breaks ties in arrival order.
type QueueItem struct {
	Number    float64        `json:"number"`
	Seq       uint64         `json:"-"`
	PromptID  string         `json:"prompt_id"`
	Graph     Graph          `json:"prompt"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
	ClientID  string         `json:"-"`
	// OutputsToExecute lists the output-node IDs validation identified.
	OutputsToExecute []string    `json:"outputs_to_execute,omitempty"`
	Completion       *Completion `json:"-"`
}

// QueueSnapshot is the wire shape of GET /queue.
type QueueSnapshot struct {
	Running []QueueItem `json:"queue_running"`
	Pending []QueueItem `json:"queue_pending"`
}
