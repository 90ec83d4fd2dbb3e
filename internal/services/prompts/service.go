package prompts

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/interfaces"
	"github.com/tuyendl123/ComfyUI/internal/models"
	"github.com/tuyendl123/ComfyUI/internal/services/cache"
	"github.com/tuyendl123/ComfyUI/internal/services/files"
)

// Service is the single entry point for job submission. Both the legacy
// fire-and-forget path and the synchronous request/response path funnel
// through it: validation, priority assignment, cache consultation, and
// enqueueing happen here, never in handlers.
type Service struct {
	executor    interfaces.Executor
	cache       *cache.Service
	files       *files.Service
	broadcaster interfaces.EventPublisher
	logger      arbor.ILogger

	// counter assigns submission order numbers. Process-wide, monotonic,
	// reset at startup.
	counterMu sync.Mutex
	counter   float64

	ceiling int
}

func NewService(exec interfaces.Executor, artifactCache *cache.Service, fileGateway *files.Service, broadcaster interfaces.EventPublisher, ceiling int, logger arbor.ILogger) *Service {
	return &Service{
		executor:    exec,
		cache:       artifactCache,
		files:       fileGateway,
		broadcaster: broadcaster,
		ceiling:     ceiling,
		logger:      logger,
	}
}

// SubmitRequest is a legacy-path submission.
type SubmitRequest struct {
	Graph     models.Graph
	Number    *float64 // explicit priority, honored verbatim
	Front     bool     // jump the queue via negated counter
	ExtraData map[string]any
	ClientID  string
}

// SubmitResult is the legacy-path acknowledgment.
type SubmitResult struct {
	PromptID string  `json:"prompt_id"`
	Number   float64 `json:"number"`
	// NodeErrors is always present, empty on success.
	NodeErrors map[string]any `json:"node_errors"`
}

func (s *Service) nextNumber(front bool) float64 {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	n := s.counter
	s.counter++
	if front {
		return -n
	}
	return n
}

// Submit validates and enqueues a graph without waiting for execution.
// Validation failure returns a *models.ValidationError and enqueues
// nothing.
func (s *Service) Submit(req SubmitRequest) (*SubmitResult, error) {
	outputs, err := s.executor.Validate(req.Graph)
	if err != nil {
		return nil, err
	}

	var number float64
	if req.Number != nil {
		number = *req.Number
	} else {
		number = s.nextNumber(req.Front)
	}

	promptID := common.NewPromptID()
	s.executor.Enqueue(&models.QueueItem{
		Number:           number,
		PromptID:         promptID,
		Graph:            req.Graph,
		ExtraData:        req.ExtraData,
		ClientID:         req.ClientID,
		OutputsToExecute: outputs,
	})
	s.broadcaster.QueueUpdated()

	s.logger.Debug().Str("prompt_id", promptID).Float64("number", number).Msg("Prompt queued")
	return &SubmitResult{
		PromptID:   promptID,
		Number:     number,
		NodeErrors: map[string]any{},
	}, nil
}

// SyncResult is the synchronous-path result: the content address and the
// artifact it resolves to.
type SyncResult struct {
	Digest string
	Path   string
	Ref    *models.ImageRef
	// CacheHit reports whether the artifact came from the cache without
	// executing.
	CacheHit bool
	PromptID string
}

// SubmitAndWait runs a graph to completion, or returns its cached artifact
// without executing. The capacity check happens before any side effect; a
// rejected submission leaves no trace. A cancelled ctx releases the caller
// but never the job: execution continues detached and still populates the
// cache for future requests.
func (s *Service) SubmitAndWait(ctx context.Context, graph models.Graph, extraData map[string]any, clientID string) (*SyncResult, error) {
	if depth := s.executor.TasksRemaining(); depth >= s.ceiling {
		return nil, &models.CapacityError{Depth: depth, Ceiling: s.ceiling}
	}

	outputs, err := s.executor.Validate(graph)
	if err != nil {
		return nil, err
	}

	digest, err := cache.Digest(graph)
	if err != nil {
		return nil, err
	}

	if path, ok := s.cache.Lookup(digest); ok {
		s.logger.Debug().Str("digest", digest).Msg("Cache hit, skipping execution")
		return &SyncResult{Digest: digest, Path: path, CacheHit: true}, nil
	}

	completion := models.NewCompletion()
	promptID := common.NewPromptID()
	s.executor.Enqueue(&models.QueueItem{
		Number:           s.nextNumber(false),
		PromptID:         promptID,
		Graph:            graph,
		ExtraData:        extraData,
		ClientID:         clientID,
		OutputsToExecute: outputs,
		Completion:       completion,
	})
	s.broadcaster.QueueUpdated()

	select {
	case <-ctx.Done():
		// The job keeps running; harvest its artifact in the background so
		// a retry of the same graph hits the cache.
		go s.commitWhenDone(digest, promptID, completion)
		return nil, ctx.Err()
	case <-completion.Done():
	}

	runOutputs, order, runErr := completion.Result()
	if runErr != nil {
		return nil, runErr
	}

	ref, err := s.cache.CommitLatestImage(digest, runOutputs, order, s.files.ResolveRef)
	if err != nil {
		return nil, err
	}
	path, _ := s.cache.Lookup(digest)
	return &SyncResult{Digest: digest, Path: path, Ref: ref, PromptID: promptID}, nil
}

func (s *Service) commitWhenDone(digest, promptID string, completion *models.Completion) {
	<-completion.Done()
	outputs, order, err := completion.Result()
	if err != nil {
		return
	}
	if _, err := s.cache.CommitLatestImage(digest, outputs, order, s.files.ResolveRef); err != nil && err != models.ErrNoContent {
		s.logger.Warn().Err(err).Str("prompt_id", promptID).Msg("Detached cache commit failed")
	}
}

// QueueInfo returns the current remaining-task count for status payloads.
func (s *Service) QueueInfo() int {
	return s.executor.TasksRemaining()
}
