package executor

import (
	"container/heap"
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/interfaces"
	"github.com/tuyendl123/ComfyUI/internal/models"
	"github.com/tuyendl123/ComfyUI/internal/nodes"
	"github.com/tuyendl123/ComfyUI/internal/services/events"
	"github.com/tuyendl123/ComfyUI/internal/services/sessions"
)

var _ interfaces.Executor = (*Executor)(nil)

// Dirs holds the managed roots node execution reads from and writes into.
type Dirs struct {
	Input  string
	Output string
	Temp   string
}

// Executor runs queued graphs in priority order on one or more worker
// goroutines. Event fan-out goes through the broadcaster; completed runs
// are recorded in history and resolve their Completion handle exactly once.
type Executor struct {
	mu      sync.Mutex
	pending itemHeap
	running map[string]*models.QueueItem // by prompt ID
	seq     atomic.Uint64
	wake    chan struct{}

	interrupted atomic.Bool

	registry    *nodes.Registry
	broadcaster *events.Broadcaster
	sessions    *sessions.Registry
	history     interfaces.HistoryStorage
	dirs        Dirs
	logger      arbor.ILogger
}

func New(registry *nodes.Registry, broadcaster *events.Broadcaster, sessionReg *sessions.Registry, history interfaces.HistoryStorage, dirs Dirs, logger arbor.ILogger) *Executor {
	return &Executor{
		running:     make(map[string]*models.QueueItem),
		wake:        make(chan struct{}, 1),
		registry:    registry,
		broadcaster: broadcaster,
		sessions:    sessionReg,
		history:     history,
		dirs:        dirs,
		logger:      logger,
	}
}

// Enqueue adds a validated item and returns its tie-break sequence.
func (e *Executor) Enqueue(item *models.QueueItem) uint64 {
	item.Seq = e.seq.Add(1)
	e.mu.Lock()
	heap.Push(&e.pending, item)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return item.Seq
}

// CurrentQueue returns copies of the running and pending sets.
func (e *Executor) CurrentQueue() ([]models.QueueItem, []models.QueueItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	running := make([]models.QueueItem, 0, len(e.running))
	for _, item := range e.running {
		running = append(running, *item)
	}
	return running, e.pending.ordered()
}

// TasksRemaining counts running plus pending work.
func (e *Executor) TasksRemaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running) + e.pending.Len()
}

// WipeQueue discards all pending work. Running work is unaffected. Waiters
// on wiped items are failed so nothing blocks forever.
func (e *Executor) WipeQueue() {
	e.mu.Lock()
	wiped := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, item := range wiped {
		if item.Completion != nil {
			item.Completion.Fail(&models.ExecutionError{PromptID: item.PromptID, Err: fmt.Errorf("removed from queue")})
		}
	}
	e.broadcaster.QueueUpdated()
}

// DeleteQueueItem removes pending items matching the predicate.
func (e *Executor) DeleteQueueItem(match func(item *models.QueueItem) bool) {
	e.mu.Lock()
	var kept itemHeap
	var removed []*models.QueueItem
	for _, item := range e.pending {
		if match(item) {
			removed = append(removed, item)
		} else {
			kept = append(kept, item)
		}
	}
	heap.Init(&kept)
	e.pending = kept
	e.mu.Unlock()

	for _, item := range removed {
		if item.Completion != nil {
			item.Completion.Fail(&models.ExecutionError{PromptID: item.PromptID, Err: fmt.Errorf("removed from queue")})
		}
	}
	if len(removed) > 0 {
		e.broadcaster.QueueUpdated()
	}
}

// Interrupt requests cancellation of the currently running job. The job
// stops at the next node boundary.
func (e *Executor) Interrupt() {
	e.interrupted.Store(true)
}

// Run is one worker loop. It drains the pending heap until ctx is
// cancelled; several Run loops may share an Executor. Client disconnects
// never cancel a running job; only Interrupt or ctx shutdown stop
// execution early.
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info().Msg("Executor worker started")
	for {
		item := e.pop()
		if item == nil {
			select {
			case <-ctx.Done():
				e.logger.Info().Msg("Executor worker stopped")
				return
			case <-e.wake:
				continue
			}
		}
		e.execute(ctx, item)
	}
}

func (e *Executor) pop() *models.QueueItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending.Len() == 0 {
		return nil
	}
	item := heap.Pop(&e.pending).(*models.QueueItem)
	e.running[item.PromptID] = item
	return item
}

func (e *Executor) finish(item *models.QueueItem) {
	e.mu.Lock()
	delete(e.running, item.PromptID)
	e.mu.Unlock()
}

func (e *Executor) execute(ctx context.Context, item *models.QueueItem) {
	defer e.finish(item)
	e.interrupted.Store(false)

	start := time.Now()
	e.logger.Info().Str("prompt_id", item.PromptID).Float64("number", item.Number).Msg("Executing prompt")

	e.broadcaster.QueueUpdated()
	e.broadcaster.Publish(models.EventExecutionStart, map[string]any{"prompt_id": item.PromptID}, item.ClientID)

	run := &graphRun{
		exec:    e,
		item:    item,
		results: make(map[string][]any),
		outputs: make(models.Outputs),
	}

	var runErr error
	for _, outputID := range item.OutputsToExecute {
		if _, err := run.resolve(ctx, outputID); err != nil {
			runErr = err
			break
		}
	}

	// Signal end of execution and clear the replay record.
	e.sessions.SetExecuting(item.ClientID, item.PromptID, nil)
	e.broadcaster.Publish(models.EventExecuting, models.ExecutingPayload(nil, item.PromptID), item.ClientID)

	if runErr != nil {
		execErr, ok := runErr.(*models.ExecutionError)
		if !ok {
			execErr = &models.ExecutionError{PromptID: item.PromptID, Err: runErr}
		}
		e.logger.Warn().Err(execErr).Str("prompt_id", item.PromptID).Msg("Prompt execution failed")
		e.broadcaster.Publish(models.EventExecutionError, map[string]any{
			"prompt_id":         item.PromptID,
			"node_id":           execErr.NodeID,
			"exception_message": execErr.Error(),
		}, item.ClientID)
		if item.Completion != nil {
			item.Completion.Fail(execErr)
		}
		e.broadcaster.QueueUpdated()
		return
	}

	entry := &models.HistoryEntry{
		PromptID:  item.PromptID,
		Number:    item.Number,
		Prompt:    item.Graph,
		ExtraData: item.ExtraData,
		Outputs:   run.outputs,
		Timestamp: time.Now(),
	}
	if err := e.history.Put(entry); err != nil {
		e.logger.Warn().Err(err).Str("prompt_id", item.PromptID).Msg("Failed to record history")
	}

	if item.Completion != nil {
		item.Completion.Resolve(run.outputs, run.order)
	}
	e.broadcaster.QueueUpdated()
	e.logger.Info().Str("prompt_id", item.PromptID).Dur("elapsed", time.Since(start)).Msg("Prompt executed")
}

// graphRun holds per-execution memoized node results.
type graphRun struct {
	exec    *Executor
	item    *models.QueueItem
	results map[string][]any
	outputs models.Outputs
	order   []string
}

// resolve executes a node after its dependencies, memoizing results so
// shared upstream nodes run once.
func (r *graphRun) resolve(ctx context.Context, nodeID string) ([]any, error) {
	if vals, done := r.results[nodeID]; done {
		return vals, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &models.ExecutionError{PromptID: r.item.PromptID, NodeID: nodeID, Err: err}
	}
	if r.exec.interrupted.Load() {
		return nil, &models.ExecutionError{PromptID: r.item.PromptID, NodeID: nodeID, Err: fmt.Errorf("interrupted")}
	}

	node, ok := r.item.Graph[nodeID]
	if !ok {
		return nil, &models.ExecutionError{PromptID: r.item.PromptID, NodeID: nodeID, Err: fmt.Errorf("node missing from graph")}
	}
	def, known := r.exec.registry.Get(node.ClassType)
	if !known {
		return nil, &models.ExecutionError{PromptID: r.item.PromptID, NodeID: nodeID, Err: fmt.Errorf("unknown node type %q", node.ClassType)}
	}

	inputs := make(map[string]any, len(node.Inputs))
	for name, value := range node.Inputs {
		if link, isLink := models.ParseLink(value); isLink {
			upstream, err := r.resolve(ctx, link.SourceID)
			if err != nil {
				return nil, err
			}
			if link.OutputIndex >= len(upstream) {
				return nil, &models.ExecutionError{PromptID: r.item.PromptID, NodeID: nodeID,
					Err: fmt.Errorf("link to output %d of node %s out of range", link.OutputIndex, link.SourceID)}
			}
			inputs[name] = upstream[link.OutputIndex]
		} else {
			inputs[name] = value
		}
	}

	id := nodeID
	r.exec.sessions.SetExecuting(r.item.ClientID, r.item.PromptID, &id)
	r.exec.broadcaster.Publish(models.EventExecuting, models.ExecutingPayload(&id, r.item.PromptID), r.item.ClientID)

	runCtx := &nodes.RunContext{
		PromptID:  r.item.PromptID,
		NodeID:    nodeID,
		InputDir:  r.exec.dirs.Input,
		OutputDir: r.exec.dirs.Output,
		TempDir:   r.exec.dirs.Temp,
		Progress: func(value, max int) {
			r.exec.broadcaster.Publish(models.EventProgress, models.ProgressPayload(value, max, r.item.PromptID, nodeID), r.item.ClientID)
		},
		Preview: func(img image.Image) {
			if err := r.exec.broadcaster.PublishPreview(img, "jpeg", 90, 512, r.item.ClientID); err != nil {
				r.exec.logger.Warn().Err(err).Str("node", nodeID).Msg("Failed to publish preview")
			}
		},
	}

	uiOutput, values, err := def.Run(runCtx, inputs)
	if err != nil {
		return nil, &models.ExecutionError{PromptID: r.item.PromptID, NodeID: nodeID, Err: err}
	}

	r.results[nodeID] = values
	r.order = append(r.order, nodeID)

	if uiOutput != nil {
		r.outputs[nodeID] = uiOutput
		r.exec.broadcaster.Publish(models.EventExecuted, models.ExecutedPayload(nodeID, uiOutput, r.item.PromptID), r.item.ClientID)
	}

	return values, nil
}
