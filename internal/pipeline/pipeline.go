package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/galois26/meetup-city-events/internal/geocode"
	"github.com/galois26/meetup-city-events/internal/meetup"
	"github.com/galois26/meetup-city-events/internal/metrics"
	"github.com/galois26/meetup-city-events/internal/sink"
	"github.com/galois26/meetup-city-events/internal/store"
	"github.com/galois26/meetup-city-events/internal/summary"
	"github.com/galois26/meetup-city-events/internal/util"
)

// Options wires a Runner. Only the collaborators a stage needs must be set:
// Geocoder for Geocode, Meetup for FetchGroups and FetchEvents.
type Options struct {
	Root       string
	Geocoder   geocode.Provider
	Meetup     *meetup.Client
	Sinks      []sink.Sink // the local sink under Root is used when empty
	Metrics    *metrics.Metrics
	RegionHint string // appended to every city name as ", <hint>"
	Groups     meetup.GroupQuery
	Events     meetup.EventQuery
	Summary    summary.Options
	Now        func() time.Time
}

// Runner executes the pipeline stages against one project root.
type Runner struct {
	root       string
	geocoder   geocode.Provider
	meetup     *meetup.Client
	sinks      []sink.Sink
	metrics    *metrics.Metrics
	regionHint string
	groups     meetup.GroupQuery
	events     meetup.EventQuery
	summary    summary.Options
	now        func() time.Time
	log        *zap.Logger
}

func New(o Options) *Runner {
	if o.Root == "" {
		o.Root = "."
	}
	if len(o.Sinks) == 0 {
		o.Sinks = []sink.Sink{sink.NewLocal(o.Root)}
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Runner{
		root:       o.Root,
		geocoder:   o.Geocoder,
		meetup:     o.Meetup,
		sinks:      o.Sinks,
		metrics:    o.Metrics,
		regionHint: o.RegionHint,
		groups:     o.Groups,
		events:     o.Events,
		summary:    o.Summary,
		now:        o.Now,
		log:        util.L().Named("pipeline"),
	}
}

// resolve finds the newest input artifact of stage.
func (r *Runner) resolve(stage store.Stage) (string, store.Timestamp, error) {
	path, ts, err := store.Resolve(r.root, stage)
	if err != nil {
		return "", store.Timestamp{}, fmt.Errorf("%s input: %w", stage.Name, err)
	}
	r.log.Info("input", zap.String("stage", stage.Name), zap.String("path", path))
	return path, ts, nil
}

// publish hands the encoded artifact to every sink, then records it in the manifest.
// If the manifest cannot be updated the artifact is discarded again.
func (r *Runner) publish(ctx context.Context, stage store.Stage, ts store.Timestamp, contentType string, data []byte) (store.Record, error) {
	a := sink.Artifact{
		Stage:       stage.Name,
		Path:        filepath.ToSlash(stage.RelPath(ts)),
		ContentType: contentType,
		Data:        data,
	}
	if err := sink.PushAll(ctx, r.sinks, a); err != nil {
		return store.Record{}, err
	}

	rec, err := r.record(stage, ts)
	if err != nil {
		err = fmt.Errorf("manifest: %w", err)
		if derr := sink.Discard(context.WithoutCancel(ctx), r.sinks, a); derr != nil {
			return store.Record{}, errors.Join(err, derr)
		}
		return store.Record{}, err
	}
	r.log.Info("artifact written", zap.String("stage", stage.Name), zap.String("path", rec.Path), zap.String("run_id", rec.ID))
	return rec, nil
}

// record appends the artifact to the run manifest.
func (r *Runner) record(stage store.Stage, ts store.Timestamp) (store.Record, error) {
	manifestPath := filepath.Join(r.root, store.ManifestPath)
	m, err := store.LoadManifest(manifestPath)
	if err != nil {
		return store.Record{}, err
	}
	rec := m.Add(stage, ts, r.now())
	if err := m.Save(manifestPath); err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

func (r *Runner) publishJSON(ctx context.Context, stage store.Stage, ts store.Timestamp, v any) (store.Record, error) {
	b, err := store.EncodeJSON(v)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode %s: %w", stage.Name, err)
	}
	return r.publish(ctx, stage, ts, "application/json", b)
}

// track records the stage's wall time when done is called.
func (r *Runner) track(stage string) func() {
	start := time.Now()
	return func() {
		r.metrics.StageDuration.WithLabelValues(stage).Set(time.Since(start).Seconds())
		r.log.Info("stage finished", zap.String("stage", stage), util.Elapsed(start))
	}
}
