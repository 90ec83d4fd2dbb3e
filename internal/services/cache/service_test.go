package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/models"
)

func testGraph() models.Graph {
	return models.Graph{
		"1": {ClassType: "EmptyImage", Inputs: map[string]any{"width": 64.0, "height": 64.0, "color": 0.0}},
		"2": {ClassType: "SaveImage", Inputs: map[string]any{"images": []any{"1", 0.0}}},
	}
}

func TestDigestStable(t *testing.T) {
	d1, err := Digest(testGraph())
	require.NoError(t, err)
	d2, err := Digest(testGraph())
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64) // sha-256 hex
}

func TestDigestIgnoresKeyOrder(t *testing.T) {
	a := models.Graph{
		"1": {ClassType: "EmptyImage", Inputs: map[string]any{"width": 64.0, "height": 32.0}},
	}
	b := models.Graph{
		"1": {ClassType: "EmptyImage", Inputs: map[string]any{"height": 32.0, "width": 64.0}},
	}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
}

func TestDigestDistinguishesGraphs(t *testing.T) {
	d1, err := Digest(testGraph())
	require.NoError(t, err)

	other := testGraph()
	other["1"].Inputs["width"] = 128.0
	d2, err := Digest(other)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	svc, err := NewService(filepath.Join(dir, "cache"), arbor.NewLogger())
	require.NoError(t, err)
	return svc, dir
}

func writeArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("artifact"), 0o644))
	return path
}

func TestLookupMissOnEmptyCache(t *testing.T) {
	svc, _ := newTestService(t)

	_, ok := svc.Lookup("deadbeef")
	assert.False(t, ok)
}

func TestCommitThenLookup(t *testing.T) {
	svc, dir := newTestService(t)
	artifact := writeArtifact(t, dir, "out.png")

	require.NoError(t, svc.Commit("abc123", artifact))

	path, ok := svc.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, artifact, path)
}

func TestLookupBrokenLinkIsMiss(t *testing.T) {
	svc, dir := newTestService(t)
	artifact := writeArtifact(t, dir, "out.png")
	require.NoError(t, svc.Commit("abc123", artifact))

	// Deleting the target invalidates the entry.
	require.NoError(t, os.Remove(artifact))

	_, ok := svc.Lookup("abc123")
	assert.False(t, ok)

	// The stale entry is gone too.
	_, err := os.Lstat(svc.EntryPath("abc123"))
	assert.True(t, os.IsNotExist(err))
}

func TestCommitOverwrites(t *testing.T) {
	svc, dir := newTestService(t)
	first := writeArtifact(t, dir, "first.png")
	second := writeArtifact(t, dir, "second.png")

	require.NoError(t, svc.Commit("abc123", first))
	require.NoError(t, svc.Commit("abc123", second))

	path, ok := svc.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, second, path)
}

func TestCommitMissingArtifactFails(t *testing.T) {
	svc, dir := newTestService(t)

	err := svc.Commit("abc123", filepath.Join(dir, "nope.png"))
	assert.Error(t, err)
}

func TestConcurrentCommitsConverge(t *testing.T) {
	svc, dir := newTestService(t)
	artifact := writeArtifact(t, dir, "out.png")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Commit("abc123", artifact))
		}()
	}
	wg.Wait()

	path, ok := svc.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, artifact, path)
}

func TestCommitLatestImagePicksLastExecuted(t *testing.T) {
	svc, dir := newTestService(t)
	first := writeArtifact(t, dir, "a.png")
	second := writeArtifact(t, dir, "b.png")
	paths := map[string]string{"a.png": first, "b.png": second}

	outputs := models.Outputs{
		"3": {"images": []any{map[string]any{"filename": "a.png", "type": "output"}}},
		"7": {"ui": map[string]any{"images": []any{map[string]any{"filename": "b.png", "type": "output"}}}},
	}

	ref, err := svc.CommitLatestImage("abc123", outputs, []string{"3", "7"}, func(ref models.ImageRef) (string, error) {
		return paths[ref.Filename], nil
	})
	require.NoError(t, err)
	assert.Equal(t, "b.png", ref.Filename)

	path, ok := svc.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, second, path)
}

func TestCommitLatestImageNoContent(t *testing.T) {
	svc, _ := newTestService(t)

	outputs := models.Outputs{"3": {"text": []any{"hello"}}}
	_, err := svc.CommitLatestImage("abc123", outputs, []string{"3"}, func(ref models.ImageRef) (string, error) {
		t.Fatal("resolver should not be called")
		return "", nil
	})
	assert.ErrorIs(t, err, models.ErrNoContent)
}
