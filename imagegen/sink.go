package imagegen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactSink persists generated image bytes and returns an opaque
// reference to them (a file path, an object URL).
type ArtifactSink interface {
	Save(ctx context.Context, name string, data []byte) (ref string, err error)
}

// FileSink writes artifacts under a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates the directory if needed and returns a sink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("imagegen: output directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("imagegen: failed to create output directory %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

// Save writes data to name. Relative names resolve inside the sink directory;
// absolute names are written as given. The write goes through a temp file and
// a rename so readers never see a partial image.
func (s *FileSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || strings.HasSuffix(name, string(os.PathSeparator)) {
		return "", fmt.Errorf("imagegen: invalid artifact name %q", name)
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, filepath.Clean(name))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("imagegen: failed to create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("imagegen: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("imagegen: failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("imagegen: failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("imagegen: failed to move artifact into place: %w", err)
	}
	return path, nil
}

// Dir returns the sink's output directory.
func (s *FileSink) Dir() string {
	return s.dir
}
