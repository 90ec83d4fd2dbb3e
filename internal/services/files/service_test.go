package files

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	base := t.TempDir()
	paths := common.PathsConfig{
		Input:  filepath.Join(base, "input"),
		Output: filepath.Join(base, "output"),
		Temp:   filepath.Join(base, "temp"),
	}
	for _, dir := range []string{paths.Input, paths.Output, paths.Temp} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	svc, err := NewService(paths, arbor.NewLogger())
	require.NoError(t, err)
	return svc
}

func TestResolveRejectsUnsafePaths(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name      string
		subfolder string
		filename  string
		malformed bool
	}{
		{name: "rooted filename", filename: "/etc/passwd", malformed: true},
		{name: "traversal in filename", filename: "../secret.png", malformed: true},
		{name: "traversal deep in filename", filename: "a/../../secret.png", malformed: true},
		{name: "traversal in subfolder", subfolder: "../outside", filename: "x.png", malformed: true},
		{name: "empty filename", filename: "", malformed: true},
		{name: "backslash rooted", filename: "\\evil", malformed: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Resolve("output", tc.subfolder, tc.filename)
			var secErr *models.SecurityError
			require.ErrorAs(t, err, &secErr)
			assert.Equal(t, tc.malformed, secErr.Malformed)
		})
	}
}

func TestResolveStaysInsideRoot(t *testing.T) {
	svc := newTestService(t)

	path, err := svc.Resolve("output", "batch1", "img.png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, svc.OutputDir()))
	assert.Equal(t, filepath.Join(svc.OutputDir(), "batch1", "img.png"), path)
}

func TestResolveUnknownKindFallsBackToInput(t *testing.T) {
	svc := newTestService(t)

	path, err := svc.Resolve("bogus", "", "img.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(svc.InputDir(), "img.png"), path)
}

func TestStatMissingFileNotFound(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.Stat("output", "", "missing.png")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestParseAnnotated(t *testing.T) {
	name, kind := ParseAnnotated("picture.png [temp]", "output")
	assert.Equal(t, "picture.png", name)
	assert.Equal(t, "temp", kind)

	name, kind = ParseAnnotated("plain.png", "output")
	assert.Equal(t, "plain.png", name)
	assert.Equal(t, "output", kind)
}

func TestSaveUploadDedup(t *testing.T) {
	svc := newTestService(t)

	name1, _, err := svc.SaveUpload("input", "", "photo.png", strings.NewReader("one"), false)
	require.NoError(t, err)
	assert.Equal(t, "photo.png", name1)

	name2, _, err := svc.SaveUpload("input", "", "photo.png", strings.NewReader("two"), false)
	require.NoError(t, err)
	assert.Equal(t, "photo (1).png", name2)

	name3, _, err := svc.SaveUpload("input", "", "photo.png", strings.NewReader("three"), false)
	require.NoError(t, err)
	assert.Equal(t, "photo (2).png", name3)

	// First file untouched.
	data, err := os.ReadFile(filepath.Join(svc.InputDir(), "photo.png"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestSaveUploadOverwrite(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.SaveUpload("input", "", "photo.png", strings.NewReader("one"), true)
	require.NoError(t, err)
	name, _, err := svc.SaveUpload("input", "", "photo.png", strings.NewReader("two"), true)
	require.NoError(t, err)
	assert.Equal(t, "photo.png", name)

	data, err := os.ReadFile(filepath.Join(svc.InputDir(), "photo.png"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestSaveUploadStripsPathComponents(t *testing.T) {
	svc := newTestService(t)

	name, _, err := svc.SaveUpload("input", "", "dir/photo.png", strings.NewReader("x"), false)
	require.NoError(t, err)
	assert.Equal(t, "photo.png", name)
}

func TestParsePreviewSpec(t *testing.T) {
	spec := ParsePreviewSpec("jpeg;75")
	assert.Equal(t, "jpeg", spec.Format)
	assert.Equal(t, 75, spec.Quality)

	// Formats outside the allow-list downgrade to png.
	spec = ParsePreviewSpec("webp;80")
	assert.Equal(t, "png", spec.Format)
	assert.Equal(t, 80, spec.Quality)

	spec = ParsePreviewSpec("")
	assert.Equal(t, "png", spec.Format)
	assert.Equal(t, 90, spec.Quality)

	spec = ParsePreviewSpec("jpeg;notanumber")
	assert.Equal(t, "jpeg", spec.Format)
	assert.Equal(t, 90, spec.Quality)
}

func writeTestPNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestTranscodeJPEG(t *testing.T) {
	svc := newTestService(t)
	path := filepath.Join(svc.OutputDir(), "img.png")
	writeTestPNG(t, path, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	body, contentType, err := Transcode(path, PreviewSpec{Format: "jpeg", Quality: 80}, "")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)
	// JPEG SOI marker.
	require.True(t, len(body) > 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, body[:2])
}

func TestExtractChannelSynthesizesOpaqueAlpha(t *testing.T) {
	// A YCbCr-style source has no alpha plane; the rgba view must carry a
	// fully opaque synthesized one.
	src := image.NewYCbCr(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio444)

	out := ExtractChannel(src, "rgba")
	rgba, ok := out.(*image.RGBA)
	require.True(t, ok)
	for i := 3; i < len(rgba.Pix); i += 4 {
		assert.Equal(t, uint8(255), rgba.Pix[i])
	}
}

func TestExtractChannelAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 128})
	src.Set(1, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0})

	out := ExtractChannel(src, "a")
	_, _, _, a := out.At(0, 0).RGBA()
	assert.Equal(t, uint32(128), a>>8)
	_, _, _, a = out.At(1, 0).RGBA()
	assert.Equal(t, uint32(0), a>>8)

	// Color planes are discarded.
	r, g, b, _ := out.At(0, 0).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, b)
}

func TestExtractChannelRGBDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0})

	out := ExtractChannel(src, "rgb")
	_, _, _, a := out.At(0, 0).RGBA()
	assert.Equal(t, uint32(255), a>>8)
}
