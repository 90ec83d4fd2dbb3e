package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tuyendl123/ComfyUI/internal/models"
)

// SaveUpload writes an uploaded file into a managed root. Unless overwrite
// is set, an existing name is de-duplicated by inserting " (1)", " (2)", ...
// before the extension. Returns the final filename and the subfolder it was
// stored under.
func (s *Service) SaveUpload(kind, subfolder, filename string, src io.Reader, overwrite bool) (string, string, error) {
	filename = filepath.Base(filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return "", "", &models.SecurityError{Path: filename, Malformed: true}
	}

	path, err := s.Resolve(kind, subfolder, filename)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	if !overwrite {
		path, filename = dedupe(path)
	}

	dst, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("failed to write upload: %w", err)
	}

	s.logger.Debug().Str("file", path).Msg("Upload saved")
	return filename, subfolder, nil
}

// dedupe finds the first free "name (i).ext" variant of path.
func dedupe(path string) (string, string) {
	if _, err := os.Lstat(path); err != nil {
		return path, filepath.Base(path)
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		full := filepath.Join(dir, candidate)
		if _, err := os.Lstat(full); err != nil {
			return full, candidate
		}
	}
}
