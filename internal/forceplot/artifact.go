package forceplot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"
)

// ErrNotUTF8 is returned when the artifact read back from disk is not valid UTF-8.
var ErrNotUTF8 = errors.New("artifact is not valid UTF-8")

// Artifact is the single force-plot file shared by every request. Writes and the read-back
// that follows are serialized so a response always embeds the document it produced.
type Artifact struct {
	mu   sync.Mutex
	path string
}

func NewArtifact(path string) *Artifact {
	return &Artifact{path: path}
}

func (a *Artifact) Path() string {
	return a.path
}

// WriteAndRead overwrites the artifact with content, then reads it back from disk and returns
// what was read.
func (a *Artifact) WriteAndRead(content string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create artifact directory: %w", err)
		}
	}

	if err := os.WriteFile(a.path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", a.path, err)
	}

	data, err := os.ReadFile(a.path)
	if err != nil {
		return "", fmt.Errorf("read artifact %s: %w", a.path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: %w", a.path, ErrNotUTF8)
	}
	return string(data), nil
}

// Read returns the current artifact contents.
func (a *Artifact) Read() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := os.ReadFile(a.path)
	if err != nil {
		return "", fmt.Errorf("read artifact %s: %w", a.path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: %w", a.path, ErrNotUTF8)
	}
	return string(data), nil
}
