package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tuyendl123/ComfyUI/internal/models"
)

// Digest computes the content address of a graph: SHA-256 over its
// canonical JSON form. encoding/json sorts map keys, so semantically equal
// graphs digest identically regardless of submission key order, and the
// value is stable across process restarts.
func Digest(graph models.Graph) (string, error) {
	canonical, err := json.Marshal(graph)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize graph: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
