package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type localSink struct {
	root string
}

// NewLocal writes artifacts under root. Existing files are never overwritten.
func NewLocal(root string) Sink {
	if root == "" {
		root = "."
	}
	return &localSink{root: root}
}

func (l *localSink) Name() string { return "local" }

func (l *localSink) path(a Artifact) string {
	return filepath.Join(l.root, filepath.FromSlash(a.Path))
}

func (l *localSink) Push(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := l.path(a)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	if _, err := f.Write(a.Data); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return fmt.Errorf("close %s: %w", p, err)
	}
	return nil
}

// Remove deletes the artifact file. A file that is already gone is not an error.
func (l *localSink) Remove(_ context.Context, a Artifact) error {
	if err := os.Remove(l.path(a)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
