package prompts

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/models"
	"github.com/tuyendl123/ComfyUI/internal/services/cache"
	"github.com/tuyendl123/ComfyUI/internal/services/events"
	"github.com/tuyendl123/ComfyUI/internal/services/files"
	"github.com/tuyendl123/ComfyUI/internal/services/sessions"
)

// fakeExecutor scripts queue behavior for façade tests.
type fakeExecutor struct {
	mu        sync.Mutex
	remaining int
	outputs   []string
	valErr    error
	enqueued  []*models.QueueItem
	// onEnqueue lets a test settle the item's completion.
	onEnqueue func(item *models.QueueItem)
}

func (f *fakeExecutor) Enqueue(item *models.QueueItem) uint64 {
	f.mu.Lock()
	f.enqueued = append(f.enqueued, item)
	n := uint64(len(f.enqueued))
	f.mu.Unlock()
	if f.onEnqueue != nil {
		f.onEnqueue(item)
	}
	return n
}

func (f *fakeExecutor) enqueuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

func (f *fakeExecutor) CurrentQueue() ([]models.QueueItem, []models.QueueItem) { return nil, nil }
func (f *fakeExecutor) TasksRemaining() int                                   { return f.remaining }
func (f *fakeExecutor) WipeQueue()                                            {}
func (f *fakeExecutor) DeleteQueueItem(func(item *models.QueueItem) bool)     {}
func (f *fakeExecutor) Interrupt()                                            {}

func (f *fakeExecutor) Validate(graph models.Graph) ([]string, error) {
	if f.valErr != nil {
		return nil, f.valErr
	}
	return f.outputs, nil
}

type testEnv struct {
	svc      *Service
	exec     *fakeExecutor
	cache    *cache.Service
	files    *files.Service
	artifact string
}

func newTestEnv(t *testing.T, exec *fakeExecutor) *testEnv {
	t.Helper()
	base := t.TempDir()
	logger := arbor.NewLogger()

	paths := common.PathsConfig{
		Input:  filepath.Join(base, "input"),
		Output: filepath.Join(base, "output"),
		Temp:   filepath.Join(base, "temp"),
	}
	for _, dir := range []string{paths.Input, paths.Output, paths.Temp} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	fileGateway, err := files.NewService(paths, logger)
	require.NoError(t, err)

	artifactCache, err := cache.NewService(filepath.Join(base, "cache"), logger)
	require.NoError(t, err)

	sessionReg := sessions.NewRegistry(logger)
	broadcaster := events.NewBroadcaster(sessionReg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go broadcaster.Run(ctx)

	artifact := filepath.Join(paths.Output, "result.png")
	require.NoError(t, os.WriteFile(artifact, []byte("png-bytes"), 0o644))

	return &testEnv{
		svc:      NewService(exec, artifactCache, fileGateway, broadcaster, 100, logger),
		exec:     exec,
		cache:    artifactCache,
		files:    fileGateway,
		artifact: artifact,
	}
}

func simpleGraph() models.Graph {
	return models.Graph{
		"1": {ClassType: "EmptyImage", Inputs: map[string]any{"width": 8.0, "height": 8.0, "color": 0.0}},
		"2": {ClassType: "SaveImage", Inputs: map[string]any{"images": []any{"1", 0.0}}},
	}
}

func resultOutputs() models.Outputs {
	return models.Outputs{
		"2": {"images": []models.ImageRef{{Filename: "result.png", Type: "output"}}},
	}
}

func TestSubmitAssignsCounterNumbers(t *testing.T) {
	env := newTestEnv(t, &fakeExecutor{outputs: []string{"2"}})

	first, err := env.svc.Submit(SubmitRequest{Graph: simpleGraph()})
	require.NoError(t, err)
	second, err := env.svc.Submit(SubmitRequest{Graph: simpleGraph()})
	require.NoError(t, err)

	assert.Equal(t, float64(0), first.Number)
	assert.Equal(t, float64(1), second.Number)
	assert.NotEqual(t, first.PromptID, second.PromptID)
	assert.NotNil(t, first.NodeErrors)
	assert.Empty(t, first.NodeErrors)
}

func TestSubmitFrontNegatesCounter(t *testing.T) {
	env := newTestEnv(t, &fakeExecutor{outputs: []string{"2"}})

	env.svc.Submit(SubmitRequest{Graph: simpleGraph()})
	env.svc.Submit(SubmitRequest{Graph: simpleGraph()})
	front, err := env.svc.Submit(SubmitRequest{Graph: simpleGraph(), Front: true})
	require.NoError(t, err)

	assert.Equal(t, float64(-2), front.Number)
}

func TestSubmitExplicitNumberHonored(t *testing.T) {
	env := newTestEnv(t, &fakeExecutor{outputs: []string{"2"}})

	n := 42.5
	result, err := env.svc.Submit(SubmitRequest{Graph: simpleGraph(), Number: &n})
	require.NoError(t, err)
	assert.Equal(t, 42.5, result.Number)
}

func TestSubmitValidationFailureEnqueuesNothing(t *testing.T) {
	exec := &fakeExecutor{valErr: &models.ValidationError{
		Summary: "prompt has 1 invalid node(s)",
		Nodes:   map[string]any{"1": map[string]any{}},
	}}
	env := newTestEnv(t, exec)

	_, err := env.svc.Submit(SubmitRequest{Graph: simpleGraph()})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, exec.enqueuedCount())
}

func TestSubmitAndWaitCapacityRejection(t *testing.T) {
	exec := &fakeExecutor{remaining: 100, outputs: []string{"2"}}
	env := newTestEnv(t, exec)

	_, err := env.svc.SubmitAndWait(context.Background(), simpleGraph(), nil, "")
	var capErr *models.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 100, capErr.Depth)
	assert.Equal(t, 100, capErr.Ceiling)

	// A rejected submission has no side effects.
	assert.Zero(t, exec.enqueuedCount())
}

func TestSubmitAndWaitCacheHitSkipsExecution(t *testing.T) {
	exec := &fakeExecutor{outputs: []string{"2"}}
	env := newTestEnv(t, exec)

	graph := simpleGraph()
	digest, err := cache.Digest(graph)
	require.NoError(t, err)
	require.NoError(t, env.cache.Commit(digest, env.artifact))

	result, err := env.svc.SubmitAndWait(context.Background(), graph, nil, "")
	require.NoError(t, err)
	assert.True(t, result.CacheHit)
	assert.Equal(t, digest, result.Digest)
	assert.Equal(t, env.artifact, result.Path)
	assert.Zero(t, exec.enqueuedCount())
}

func TestSubmitAndWaitRunsAndCommits(t *testing.T) {
	exec := &fakeExecutor{outputs: []string{"2"}}
	exec.onEnqueue = func(item *models.QueueItem) {
		go item.Completion.Resolve(resultOutputs(), []string{"1", "2"})
	}
	env := newTestEnv(t, exec)

	graph := simpleGraph()
	result, err := env.svc.SubmitAndWait(context.Background(), graph, nil, "")
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, env.artifact, result.Path)
	require.NotNil(t, result.Ref)
	assert.Equal(t, "result.png", result.Ref.Filename)

	// The run populated the cache for future submissions.
	digest, err := cache.Digest(graph)
	require.NoError(t, err)
	path, ok := env.cache.Lookup(digest)
	require.True(t, ok)
	assert.Equal(t, env.artifact, path)
}

func TestSubmitAndWaitExecutionFailure(t *testing.T) {
	exec := &fakeExecutor{outputs: []string{"2"}}
	exec.onEnqueue = func(item *models.QueueItem) {
		go item.Completion.Fail(&models.ExecutionError{PromptID: item.PromptID, NodeID: "1"})
	}
	env := newTestEnv(t, exec)

	_, err := env.svc.SubmitAndWait(context.Background(), simpleGraph(), nil, "")
	var execErr *models.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestSubmitAndWaitNoContent(t *testing.T) {
	exec := &fakeExecutor{outputs: []string{"2"}}
	exec.onEnqueue = func(item *models.QueueItem) {
		go item.Completion.Resolve(models.Outputs{"2": {"text": []any{"no images"}}}, []string{"2"})
	}
	env := newTestEnv(t, exec)

	_, err := env.svc.SubmitAndWait(context.Background(), simpleGraph(), nil, "")
	assert.ErrorIs(t, err, models.ErrNoContent)
}

func TestSubmitAndWaitAbortedWaiterStillPopulatesCache(t *testing.T) {
	exec := &fakeExecutor{outputs: []string{"2"}}
	release := make(chan struct{})
	exec.onEnqueue = func(item *models.QueueItem) {
		go func() {
			<-release
			item.Completion.Resolve(resultOutputs(), []string{"1", "2"})
		}()
	}
	env := newTestEnv(t, exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	graph := simpleGraph()
	_, err := env.svc.SubmitAndWait(ctx, graph, nil, "")
	require.ErrorIs(t, err, context.Canceled)

	// The job finishes later; its artifact must still land in the cache.
	close(release)
	digest, err := cache.Digest(graph)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := env.cache.Lookup(digest)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}
