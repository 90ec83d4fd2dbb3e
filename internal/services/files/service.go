package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/models"
)

// Service mediates all filesystem access for clients. Every request
// resolves against one of three managed roots; nothing outside them is
// reachable regardless of what path a request crafts.
type Service struct {
	input  string
	output string
	temp   string
	logger arbor.ILogger
}

func NewService(paths common.PathsConfig, logger arbor.ILogger) (*Service, error) {
	s := &Service{logger: logger}
	var err error
	if s.input, err = filepath.Abs(paths.Input); err != nil {
		return nil, fmt.Errorf("failed to resolve input dir: %w", err)
	}
	if s.output, err = filepath.Abs(paths.Output); err != nil {
		return nil, fmt.Errorf("failed to resolve output dir: %w", err)
	}
	if s.temp, err = filepath.Abs(paths.Temp); err != nil {
		return nil, fmt.Errorf("failed to resolve temp dir: %w", err)
	}
	return s, nil
}

// RootFor maps a root kind to its directory. Unknown kinds fall back to the
// input root.
func (s *Service) RootFor(kind string) string {
	switch kind {
	case "output":
		return s.output
	case "temp":
		return s.temp
	default:
		return s.input
	}
}

// OutputDir returns the output root.
func (s *Service) OutputDir() string { return s.output }

// InputDir returns the input root.
func (s *Service) InputDir() string { return s.input }

// Resolve maps (kind, subfolder, filename) to an absolute path inside the
// corresponding root. Rooted filenames and any ".." traversal are rejected
// as malformed; a canonicalized subfolder that lands outside the root is
// rejected as an escape. Existence is not checked.
func (s *Service) Resolve(kind, subfolder, filename string) (string, error) {
	if filename == "" {
		return "", &models.SecurityError{Path: filename, Malformed: true}
	}
	if strings.HasPrefix(filename, "/") || strings.HasPrefix(filename, "\\") {
		return "", &models.SecurityError{Path: filename, Malformed: true}
	}
	if containsDotDot(filename) || containsDotDot(subfolder) {
		return "", &models.SecurityError{Path: filepath.Join(subfolder, filename), Malformed: true}
	}

	root := s.RootFor(kind)
	dir := root
	if subfolder != "" {
		dir = filepath.Join(root, subfolder)
		if !within(root, dir) {
			return "", &models.SecurityError{Path: subfolder}
		}
	}

	full := filepath.Join(dir, filename)
	if !within(root, full) {
		return "", &models.SecurityError{Path: filepath.Join(subfolder, filename)}
	}
	return full, nil
}

// ResolveRef resolves an image reference produced by an output node.
func (s *Service) ResolveRef(ref models.ImageRef) (string, error) {
	return s.Resolve(ref.Type, ref.Subfolder, ref.Filename)
}

// Annotated filenames carry their root inline: "picture.png [output]".
// ParseAnnotated splits the name and the root kind.
func ParseAnnotated(name, defaultKind string) (filename, kind string) {
	kind = defaultKind
	filename = name
	if i := strings.LastIndex(name, " ["); i >= 0 && strings.HasSuffix(name, "]") {
		kind = name[i+2 : len(name)-1]
		filename = name[:i]
	}
	return filename, kind
}

func containsDotDot(p string) bool {
	if p == "" {
		return false
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// within reports whether path is root or below it after cleaning. This is
// a lexical containment test on canonical paths, not a string prefix match.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

// Stat resolves and stats a managed file, mapping a missing file to
// models.ErrNotFound.
func (s *Service) Stat(kind, subfolder, filename string) (string, os.FileInfo, error) {
	path, err := s.Resolve(kind, subfolder, filename)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, models.ErrNotFound
		}
		return "", nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", nil, models.ErrNotFound
	}
	return path, info, nil
}
