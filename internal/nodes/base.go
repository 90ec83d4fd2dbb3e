package nodes

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/tuyendl123/ComfyUI/internal/models"
	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"
)

// BaseSource registers the built-in image node set.
func BaseSource() Source {
	return Source{
		Name: "base",
		Register: func(r *Registry) error {
			defs := []*Definition{
				emptyImageDef(),
				loadImageDef(),
				scaleImageDef(),
				invertImageDef(),
				saveImageDef(),
				previewImageDef(),
			}
			for _, def := range defs {
				if err := r.Register(def); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func intInput(def, min, max int) Input {
	return Input{Type: "INT", Options: map[string]any{"default": def, "min": min, "max": max}}
}

func emptyImageDef() *Definition {
	return &Definition{
		Name:        "EmptyImage",
		DisplayName: "Empty Image",
		Category:    "image",
		Inputs: map[string]Input{
			"width":  intInput(512, 1, 8192),
			"height": intInput(512, 1, 8192),
			"color":  intInput(0, 0, 0xFFFFFF),
		},
		ReturnTypes: []string{"IMAGE"},
		Run: func(ctx *RunContext, inputs map[string]any) (models.NodeOutput, []any, error) {
			w := intArg(inputs, "width", 512)
			h := intArg(inputs, "height", 512)
			rgb := intArg(inputs, "color", 0)
			img := image.NewRGBA(image.Rect(0, 0, w, h))
			fill := color.RGBA{
				R: uint8(rgb >> 16),
				G: uint8(rgb >> 8),
				B: uint8(rgb),
				A: 255,
			}
			draw.Draw(img, img.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
			return nil, []any{img}, nil
		},
	}
}

func loadImageDef() *Definition {
	return &Definition{
		Name:        "LoadImage",
		DisplayName: "Load Image",
		Category:    "image",
		Inputs: map[string]Input{
			"image": {Type: "STRING", Options: map[string]any{"image_upload": true}},
		},
		ReturnTypes: []string{"IMAGE"},
		Run: func(ctx *RunContext, inputs map[string]any) (models.NodeOutput, []any, error) {
			name, _ := inputs["image"].(string)
			if name == "" {
				return nil, nil, fmt.Errorf("LoadImage requires an image filename")
			}
			path := filepath.Join(ctx.InputDir, filepath.Base(name))
			f, err := os.Open(path)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open %s: %w", name, err)
			}
			defer f.Close()
			img, _, err := image.Decode(f)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to decode %s: %w", name, err)
			}
			return nil, []any{img}, nil
		},
	}
}

func scaleImageDef() *Definition {
	return &Definition{
		Name:        "ScaleImage",
		DisplayName: "Scale Image",
		Category:    "image/transform",
		Inputs: map[string]Input{
			"image":  {Type: "IMAGE"},
			"width":  intInput(512, 1, 8192),
			"height": intInput(512, 1, 8192),
		},
		ReturnTypes: []string{"IMAGE"},
		Run: func(ctx *RunContext, inputs map[string]any) (models.NodeOutput, []any, error) {
			src, err := imageArg(inputs, "image")
			if err != nil {
				return nil, nil, err
			}
			w := intArg(inputs, "width", 512)
			h := intArg(inputs, "height", 512)
			dst := image.NewRGBA(image.Rect(0, 0, w, h))
			draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
			return nil, []any{dst}, nil
		},
	}
}

func invertImageDef() *Definition {
	return &Definition{
		Name:        "InvertImage",
		DisplayName: "Invert Image",
		Category:    "image/transform",
		Inputs: map[string]Input{
			"image": {Type: "IMAGE"},
		},
		ReturnTypes: []string{"IMAGE"},
		Run: func(ctx *RunContext, inputs map[string]any) (models.NodeOutput, []any, error) {
			src, err := imageArg(inputs, "image")
			if err != nil {
				return nil, nil, err
			}
			bounds := src.Bounds()
			dst := image.NewRGBA(bounds)
			draw.Draw(dst, bounds, src, bounds.Min, draw.Src)
			px := dst.Pix
			for i := 0; i < len(px); i += 4 {
				px[i] = 255 - px[i]
				px[i+1] = 255 - px[i+1]
				px[i+2] = 255 - px[i+2]
			}
			return nil, []any{dst}, nil
		},
	}
}

func saveImageDef() *Definition {
	return &Definition{
		Name:        "SaveImage",
		DisplayName: "Save Image",
		Category:    "image",
		OutputNode:  true,
		Inputs: map[string]Input{
			"images": {Type: "IMAGE"},
		},
		Optional: map[string]Input{
			"filename_prefix": {Type: "STRING", Options: map[string]any{"default": "comfyd"}},
		},
		Run: func(ctx *RunContext, inputs map[string]any) (models.NodeOutput, []any, error) {
			return saveImages(ctx, inputs, ctx.OutputDir, "output")
		},
	}
}

func previewImageDef() *Definition {
	return &Definition{
		Name:        "PreviewImage",
		DisplayName: "Preview Image",
		Category:    "image",
		OutputNode:  true,
		Inputs: map[string]Input{
			"images": {Type: "IMAGE"},
		},
		Run: func(ctx *RunContext, inputs map[string]any) (models.NodeOutput, []any, error) {
			out, vals, err := saveImages(ctx, inputs, ctx.TempDir, "temp")
			if err == nil && ctx.Preview != nil {
				if img, imgErr := imageArg(inputs, "images"); imgErr == nil {
					ctx.Preview(img)
				}
			}
			return out, vals, err
		},
	}
}

func saveImages(ctx *RunContext, inputs map[string]any, dir, kind string) (models.NodeOutput, []any, error) {
	img, err := imageArg(inputs, "images")
	if err != nil {
		return nil, nil, err
	}
	prefix, _ := inputs["filename_prefix"].(string)
	if prefix == "" {
		prefix = "comfyd"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create %s dir: %w", kind, err)
	}

	filename, err := nextCounterName(dir, prefix)
	if err != nil {
		return nil, nil, err
	}
	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		os.Remove(path)
		return nil, nil, fmt.Errorf("failed to encode image: %w", err)
	}

	if ctx.Progress != nil {
		ctx.Progress(1, 1)
	}

	out := models.NodeOutput{
		"images": []models.ImageRef{{Filename: filename, Subfolder: "", Type: kind}},
	}
	return out, nil, nil
}

// nextCounterName finds the first free "<prefix>_NNNNN_.png" name.
func nextCounterName(dir, prefix string) (string, error) {
	for i := 1; i < 100000; i++ {
		name := fmt.Sprintf("%s_%05d_.png", prefix, i)
		if _, err := os.Lstat(filepath.Join(dir, name)); err != nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no free filename for prefix %s", prefix)
}

func intArg(inputs map[string]any, key string, def int) int {
	switch v := inputs[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func imageArg(inputs map[string]any, key string) (image.Image, error) {
	img, ok := inputs[key].(image.Image)
	if !ok {
		return nil, fmt.Errorf("input %q is not an image", key)
	}
	return img, nil
}
