package models

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLink(t *testing.T) {
	link, ok := ParseLink([]any{"4", float64(1)})
	require.True(t, ok)
	assert.Equal(t, "4", link.SourceID)
	assert.Equal(t, 1, link.OutputIndex)

	tests := []struct {
		name  string
		value any
	}{
		{"string literal", "hello"},
		{"number literal", float64(3)},
		{"short array", []any{"4"}},
		{"long array", []any{"4", float64(0), float64(1)}},
		{"non-string id", []any{float64(4), float64(0)}},
		{"non-numeric index", []any{"4", "0"}},
		{"nil", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := ParseLink(tc.value)
			assert.False(t, ok)
		})
	}
}

func TestGraphCloneIsIndependent(t *testing.T) {
	g := Graph{
		"1": {ClassType: "EmptyImage", Inputs: map[string]any{"width": 8.0}},
		"2": {ClassType: "SaveImage", Inputs: map[string]any{"image": []any{"1", 0.0}}},
	}

	clone, err := g.Clone()
	require.NoError(t, err)
	require.Equal(t, g, clone)

	clone["1"].Inputs["width"] = 16.0
	assert.Equal(t, 8.0, g["1"].Inputs["width"])
}

func TestNodeOutputImages(t *testing.T) {
	direct := NodeOutput{"images": []ImageRef{{Filename: "a.png", Type: "output"}}}
	refs := direct.Images()
	require.Len(t, refs, 1)
	assert.Equal(t, "a.png", refs[0].Filename)

	// The ui-nested shape survives a JSON round-trip as []any of maps.
	nested := NodeOutput{"ui": map[string]any{
		"images": []any{
			map[string]any{"filename": "b.png", "subfolder": "x", "type": "temp"},
			map[string]any{"subfolder": "no-filename-dropped"},
		},
	}}
	refs = nested.Images()
	require.Len(t, refs, 1)
	assert.Equal(t, ImageRef{Filename: "b.png", Subfolder: "x", Type: "temp"}, refs[0])

	assert.Nil(t, NodeOutput{"text": "hi"}.Images())
}

func TestCompletionResolveOnce(t *testing.T) {
	c := NewCompletion()

	select {
	case <-c.Done():
		t.Fatal("unsettled completion reported done")
	default:
	}

	c.Resolve(Outputs{"1": {}}, []string{"1"})
	c.Fail(errors.New("ignored, already settled"))

	<-c.Done()
	outputs, order, err := c.Result()
	require.NoError(t, err)
	assert.Contains(t, outputs, "1")
	assert.Equal(t, []string{"1"}, order)
}

func TestCompletionFail(t *testing.T) {
	c := NewCompletion()
	want := errors.New("node blew up")
	c.Fail(want)

	<-c.Done()
	_, _, err := c.Result()
	assert.ErrorIs(t, err, want)
}

func TestCompletionManyWaiters(t *testing.T) {
	c := NewCompletion()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-c.Done()
		}()
	}
	c.Resolve(Outputs{}, nil)
	wg.Wait()
}
