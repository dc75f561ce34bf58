package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/galois26/meetup-city-events/internal/model"
	"github.com/galois26/meetup-city-events/internal/store"
	"github.com/galois26/meetup-city-events/internal/summary"
)

// ReadCities reads one city name per line. Line endings are stripped and blank lines skipped.
func ReadCities(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", store.ErrNoArtifacts, path)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		line = strings.TrimPrefix(line, "\ufeff")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s lists no cities", store.ErrNoArtifacts, path)
	}
	return out, nil
}

// Geocode looks up every name in the cities list and writes the geocoded artifact.
func (r *Runner) Geocode(ctx context.Context) (store.Record, error) {
	if r.geocoder == nil {
		return store.Record{}, errors.New("geocode: no geocoder configured")
	}
	defer r.track(store.StageGeocoded.Name)()

	names, err := ReadCities(filepath.Join(r.root, store.CitiesList))
	if err != nil {
		return store.Record{}, err
	}
	provider := r.geocoder.Name()
	out := make(model.GeocodedCities, 0, len(names))
	for _, name := range names {
		query := name
		if r.regionHint != "" {
			query = name + ", " + r.regionHint
		}
		f, err := r.geocoder.Geocode(ctx, query)
		if err != nil {
			r.metrics.GeocodeRequests.WithLabelValues(provider, "error").Inc()
			return store.Record{}, fmt.Errorf("geocode %q: %w", query, err)
		}
		r.metrics.GeocodeRequests.WithLabelValues(provider, f.Properties.Status).Inc()
		if f.Located() {
			r.log.Info("geocoded", zap.String("query", query), zap.String("city", f.Properties.City),
				zap.String("country", f.Properties.Country),
				zap.Float64("lat", f.Properties.Lat), zap.Float64("lng", f.Properties.Lng))
		} else {
			r.log.Warn("no geocoding result", zap.String("query", query), zap.String("status", f.Properties.Status))
		}
		out = append(out, f)
	}
	return r.publishJSON(ctx, store.StageGeocoded, store.NewTimestamp(r.now()), out)
}

// FetchGroups queries the groups near every geocoded city. When two located
// cities share a key the later one wins and a warning is logged.
func (r *Runner) FetchGroups(ctx context.Context) (store.Record, error) {
	if r.meetup == nil {
		return store.Record{}, errors.New("groups: no meetup client configured")
	}
	defer r.track(store.StageGroups.Name)()

	path, _, err := r.resolve(store.StageGeocoded)
	if err != nil {
		return store.Record{}, err
	}
	var cities model.GeocodedCities
	if err := store.ReadJSON(path, &cities); err != nil {
		return store.Record{}, err
	}

	result := make(model.GroupsByCity, len(cities))
	fetched := make(map[string]bool, len(cities))
	for _, c := range cities {
		key := c.Key()
		p := c.Properties
		if !c.Located() {
			r.log.Warn("city has no coordinates, skipping", zap.String("city", key), zap.String("address", p.Address))
			if _, ok := result[key]; !ok {
				result[key] = []model.Group{}
			}
			continue
		}
		q := r.groups
		q.Country, q.Lat, q.Lon = p.Country, p.Lat, p.Lng
		groups, err := r.meetup.Groups(ctx, q)
		if err != nil {
			return store.Record{}, fmt.Errorf("groups for %s: %w", key, err)
		}
		r.log.Info("groups", zap.String("city", key), zap.String("country", p.Country),
			zap.Float64("lat", p.Lat), zap.Float64("lng", p.Lng), zap.Int("groups", len(groups)))
		if fetched[key] {
			r.log.Warn("duplicate city key, replacing groups", zap.String("city", key),
				zap.String("address", p.Address), zap.Int("dropped", len(result[key])))
		}
		fetched[key] = true
		result[key] = groups
	}
	return r.publishJSON(ctx, store.StageGroups, store.NewTimestamp(r.now()), result)
}

// FetchEvents collects the events of every group found by FetchGroups.
// A group listed under several cities is fetched once.
func (r *Runner) FetchEvents(ctx context.Context) (store.Record, error) {
	if r.meetup == nil {
		return store.Record{}, errors.New("events: no meetup client configured")
	}
	defer r.track(store.StageEvents.Name)()

	path, _, err := r.resolve(store.StageGroups)
	if err != nil {
		return store.Record{}, err
	}
	var groups model.GroupsByCity
	if err := store.ReadJSON(path, &groups); err != nil {
		return store.Record{}, err
	}

	seen := store.NewCache[[]model.Event](0, 0)
	result := make(model.EventsByCity, len(groups))
	for city, gs := range groups {
		r.log.Info("events for city", zap.String("city", city), zap.Int("groups", len(gs)))
		lists := make([][]model.Event, 0, len(gs))
		for _, g := range gs {
			events, ok := seen.Get(g.URLName)
			if !ok {
				events, err = r.meetup.Events(ctx, g.URLName, r.events)
				if err != nil {
					return store.Record{}, fmt.Errorf("events for %s/%s: %w", city, g.URLName, err)
				}
				seen.Put(g.URLName, events)
			}
			r.log.Info("events", zap.String("city", city), zap.String("group", g.URLName),
				zap.Int("events", len(events)), zap.Bool("cached", ok))
			lists = append(lists, events)
		}
		result[city] = lists
	}
	return r.publishJSON(ctx, store.StageEvents, store.NewTimestamp(r.now()), result)
}

// Summarize counts qualifying events per city into the CSV summary. The CSV
// carries the timestamp of the events artifact it was computed from.
func (r *Runner) Summarize(ctx context.Context) (store.Record, error) {
	defer r.track(store.StageSummary.Name)()

	eventsPath, ts, err := r.resolve(store.StageEvents)
	if err != nil {
		return store.Record{}, err
	}
	citiesPath, _, err := r.resolve(store.StageGeocoded)
	if err != nil {
		return store.Record{}, err
	}

	var events model.EventsByCity
	if err := store.ReadJSON(eventsPath, &events); err != nil {
		return store.Record{}, err
	}
	var cities model.GeocodedCities
	if err := store.ReadJSON(citiesPath, &cities); err != nil {
		return store.Record{}, err
	}

	if err := summary.FixNullCity(events, cities, r.summary.NullCity); err != nil {
		return store.Record{}, err
	}
	rows := summary.Count(events, cities, r.summary)
	total := 0
	for _, row := range rows {
		total += row.Total
	}
	r.metrics.EventsCounted.Add(float64(total))

	var buf bytes.Buffer
	if err := summary.WriteCSV(&buf, rows); err != nil {
		return store.Record{}, fmt.Errorf("encode summary: %w", err)
	}
	return r.publish(ctx, store.StageSummary, ts, "text/csv", buf.Bytes())
}
