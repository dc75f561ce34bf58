package sink

import (
	"context"
	"errors"
	"fmt"
	"path"
)

// Artifact is one stage output ready to be persisted.
type Artifact struct {
	Stage       string // stage name, e.g. "groups"
	Path        string // slash-separated, relative to the project root
	ContentType string
	Data        []byte
}

// Name is the artifact's file name.
func (a Artifact) Name() string { return path.Base(a.Path) }

// Sink is the minimal interface all sinks must implement.
type Sink interface {
	Name() string
	Push(ctx context.Context, a Artifact) error
}

// Remover is implemented by sinks that can take back an artifact they stored.
type Remover interface {
	Remove(ctx context.Context, a Artifact) error
}

// PushAll hands a to every sink in order. On the first failure the sinks that
// already stored a are rolled back, so a failed stage leaves no artifact behind.
func PushAll(ctx context.Context, sinks []Sink, a Artifact) error {
	for i, s := range sinks {
		if err := s.Push(ctx, a); err != nil {
			err = fmt.Errorf("sink %s: %w", s.Name(), err)
			if rerr := Discard(context.WithoutCancel(ctx), sinks[:i], a); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
	}
	return nil
}

// Discard removes a from every sink that supports removal, newest first.
func Discard(ctx context.Context, sinks []Sink, a Artifact) error {
	var errs []error
	for i := len(sinks) - 1; i >= 0; i-- {
		rm, ok := sinks[i].(Remover)
		if !ok {
			continue
		}
		if err := rm.Remove(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("discard from %s: %w", sinks[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}
