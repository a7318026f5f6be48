package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sjawhar/ghost-capture/internal/audio"
)

// AudioDir keeps the encoded payload of every segment under
// <dir>/<session id>/.
type AudioDir struct {
	dir string
}

func NewAudioDir(dir string) *AudioDir {
	return &AudioDir{dir: dir}
}

// Save writes payload and returns its path. The file name sorts by sequence.
func (a *AudioDir) Save(sessionID string, sequence int, segmentID, label string, payload []byte) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("save segment %s: session id is required", segmentID)
	}
	dir := filepath.Join(a.dir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	name := fmt.Sprintf("%04d-%s%s", sequence, segmentID, audio.ExtensionForLabel(label))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
