package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/galois26/meetup-city-events/internal/geocode"
	"github.com/galois26/meetup-city-events/internal/meetup"
	"github.com/galois26/meetup-city-events/internal/pipeline"
	"github.com/galois26/meetup-city-events/internal/sink"
	"github.com/galois26/meetup-city-events/internal/summary"
	"github.com/galois26/meetup-city-events/internal/util"
)

type needs struct {
	meetup   bool
	geocoder bool
	summary  bool
}

// newRunner builds the pipeline with only the collaborators the command uses.
func newRunner(ctx context.Context, n needs) (*pipeline.Runner, error) {
	log := util.L()
	sinks := []sink.Sink{sink.NewLocal(cfg.Root)}
	if cfg.Artifacts.S3.Bucket != "" {
		s, err := sink.NewS3(ctx, cfg.Artifacts.S3)
		if err != nil {
			return nil, fmt.Errorf("init s3 sink: %w", err)
		}
		sinks = append(sinks, s)
		log.Info("mirroring artifacts to s3", zap.String("bucket", cfg.Artifacts.S3.Bucket),
			zap.String("prefix", cfg.Artifacts.S3.Prefix))
	}

	o := pipeline.Options{
		Root:       cfg.Root,
		Sinks:      sinks,
		Metrics:    met,
		RegionHint: cfg.Geocoder.RegionHint,
		Groups:     meetup.GroupQuery{Category: cfg.Meetup.Category, Radius: cfg.Meetup.Radius},
		Events:     meetup.EventQuery{Status: cfg.Meetup.Status, Page: cfg.Meetup.PageSize},
	}

	if n.meetup {
		if err := cfg.RequireMeetupKey(); err != nil {
			return nil, err
		}
		mc := cfg.Meetup
		o.Meetup = meetup.NewClient(meetup.Options{
			BaseURL:    mc.BaseURL,
			APIKey:     mc.APIKey,
			UserAgent:  mc.UserAgent,
			Timeout:    mc.Timeout,
			PageSize:   mc.PageSize,
			Pagination: meetup.Pagination(mc.Pagination),
			Limiter:    meetup.NewRateLimiter(mc.RateLimit.Requests, mc.RateLimit.Window),
			Metrics:    met,
		})
		log.Info("meetup client", zap.String("base_url", mc.BaseURL), zap.String("pagination", mc.Pagination),
			zap.Int("quota", mc.RateLimit.Requests), zap.Duration("window", mc.RateLimit.Window))
	}

	if n.geocoder {
		p, err := geocode.NewProviderFromConfig(cfg.Geocoder)
		if err != nil {
			return nil, err
		}
		o.Geocoder = p
		log.Info("geocoder", zap.String("provider", p.Name()), zap.String("region_hint", cfg.Geocoder.RegionHint))
	}

	if n.summary {
		cutoff, err := cfg.CutoffDate()
		if err != nil {
			return nil, err
		}
		loc, err := cfg.Location()
		if err != nil {
			return nil, err
		}
		o.Summary = summary.Options{Cutoff: cutoff, Location: loc, NullCity: cfg.Summary.NullCity}
	}

	return pipeline.New(o), nil
}
