package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/models"
)

// Service is the content-addressed artifact cache: one symlink per graph
// digest, pointing at the artifact file in the output tree. Cache entries
// are an index, not a copy; a missing target invalidates the entry.
type Service struct {
	dir    string
	logger arbor.ILogger
}

func NewService(dir string, logger arbor.ILogger) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Service{dir: dir, logger: logger}, nil
}

// Dir returns the cache directory.
func (s *Service) Dir() string {
	return s.dir
}

// EntryPath returns the cache entry path for a digest.
func (s *Service) EntryPath(digest string) string {
	return filepath.Join(s.dir, digest)
}

// Lookup resolves a digest to the artifact path it indexes. A broken link
// (target deleted since commit) is a miss; the stale entry is unlinked
// best-effort.
func (s *Service) Lookup(digest string) (string, bool) {
	entry := s.EntryPath(digest)
	if _, err := os.Lstat(entry); err != nil {
		return "", false
	}
	target, err := os.Readlink(entry)
	if err != nil {
		return "", false
	}
	if _, err := os.Stat(entry); err != nil {
		s.logger.Debug().Str("digest", digest).Str("target", target).Msg("Removing broken cache entry")
		os.Remove(entry)
		return "", false
	}
	return target, true
}

// Commit indexes an artifact under a digest. Concurrent commits for the
// same digest are serialized by a sidecar file lock; the last writer wins,
// which is safe because equal digests mean equal content.
func (s *Service) Commit(digest, artifactPath string) error {
	abs, err := filepath.Abs(artifactPath)
	if err != nil {
		return fmt.Errorf("failed to resolve artifact path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("artifact missing at commit: %w", err)
	}

	lock := flock.New(s.EntryPath(digest) + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock cache entry: %w", err)
	}
	defer func() {
		lock.Unlock()
		os.Remove(lock.Path())
	}()

	entry := s.EntryPath(digest)
	if err := os.Remove(entry); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace cache entry: %w", err)
	}
	if err := os.Symlink(abs, entry); err != nil {
		return fmt.Errorf("failed to create cache entry: %w", err)
	}

	s.logger.Debug().Str("digest", digest).Str("target", abs).Msg("Artifact cached")
	return nil
}

// CommitLatestImage extracts the most recent image from a run's outputs,
// resolves it against the provided root resolver, and commits it. nodeOrder
// is the execution order of the output nodes; when multiple nodes produced
// images the last to execute wins. Returns the committed image ref, or
// models.ErrNoContent when the run produced no images.
func (s *Service) CommitLatestImage(digest string, outputs models.Outputs, nodeOrder []string, resolve func(ref models.ImageRef) (string, error)) (*models.ImageRef, error) {
	var latest *models.ImageRef
	for _, nodeID := range nodeOrder {
		nodeOutput, ok := outputs[nodeID]
		if !ok {
			continue
		}
		images := nodeOutput.Images()
		if len(images) > 0 {
			ref := images[len(images)-1]
			latest = &ref
		}
	}
	if latest == nil {
		return nil, models.ErrNoContent
	}

	path, err := resolve(*latest)
	if err != nil {
		return nil, err
	}
	if err := s.Commit(digest, path); err != nil {
		return nil, err
	}
	return latest, nil
}
