package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/galois26/meetup-city-events/internal/meetup"
	"github.com/galois26/meetup-city-events/internal/metrics"
	"github.com/galois26/meetup-city-events/internal/model"
	"github.com/galois26/meetup-city-events/internal/sink"
	"github.com/galois26/meetup-city-events/internal/store"
	"github.com/galois26/meetup-city-events/internal/summary"
	"github.com/galois26/meetup-city-events/internal/util"
)

var (
	berlin = model.NewCityFeature(model.CityProperties{
		Address: "Berlin, Germany", City: "Berlin", Country: "DE", Lat: 52.52, Lng: 13.405,
	}, [4]float64{13.08, 52.33, 13.76, 52.67})
	paris = model.NewCityFeature(model.CityProperties{
		Address: "Paris, France", City: "Paris", Country: "FR", Lat: 48.85, Lng: 2.35,
	}, [4]float64{2.22, 48.81, 2.47, 48.90})
)

func clock(ts string) func() time.Time {
	t, err := time.ParseInLocation("20060102_150405", ts, time.Local)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

type fakeGeocoder struct {
	features map[string]model.CityFeature
	queries  []string
}

func (f *fakeGeocoder) Name() string { return "fake" }

func (f *fakeGeocoder) Geocode(_ context.Context, address string) (model.CityFeature, error) {
	f.queries = append(f.queries, address)
	if c, ok := f.features[address]; ok {
		return c, nil
	}
	return model.NewUnlocatedFeature(address, "ZERO_RESULTS", "fake"), nil
}

// meetupAPI serves two groups per city on find/groups and one page of events per group.
type meetupAPI struct {
	mu          sync.Mutex
	eventCalls  map[string]int
	groupStatus int
	srv         *httptest.Server
}

func newMeetupAPI(t *testing.T) *meetupAPI {
	api := &meetupAPI{eventCalls: map[string]int{}, groupStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/find/groups", func(w http.ResponseWriter, r *http.Request) {
		if api.groupStatus != http.StatusOK {
			http.Error(w, `{"errors":[{"code":"server_error"}]}`, api.groupStatus)
			return
		}
		var prefix string
		switch r.URL.Query().Get("country") {
		case "DE":
			prefix = "berlin"
		case "FR":
			prefix = "paris"
		}
		fmt.Fprintf(w, `[{"id":1,"urlname":"go-%[1]s"},{"id":2,"urlname":"rust-%[1]s"}]`, prefix)
	})
	mux.HandleFunc("/{urlname}/events", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("urlname")
		api.mu.Lock()
		api.eventCalls[name]++
		api.mu.Unlock()
		created := time.Date(2016, 2, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
		fmt.Fprintf(w, `[{"id":"%s-1","created":%d,"venue":{"lat":52.5,"lon":13.4}},{"id":"%s-2","created":%d}]`,
			name, created, name, created)
	})
	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	return api
}

func (a *meetupAPI) client() *meetup.Client {
	return meetup.NewClient(meetup.Options{BaseURL: a.srv.URL, APIKey: "k", HTTPClient: a.srv.Client()})
}

// observeLogs routes the process logger into an in-memory observer until the test ends.
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	prev := util.L()
	util.SetLogger(zap.New(core))
	t.Cleanup(func() { util.SetLogger(prev) })
	return logs
}

type failingSink struct{}

func (failingSink) Name() string { return "remote" }

func (failingSink) Push(context.Context, sink.Artifact) error {
	return errors.New("upload refused")
}

func writeArtifact(t *testing.T, root string, stage store.Stage, ts string, v any) {
	t.Helper()
	parsed, err := store.ParseTimestamp(ts)
	require.NoError(t, err)
	require.NoError(t, store.WriteJSON(filepath.Join(root, stage.RelPath(parsed)), v))
}

func TestReadCities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities_list.txt")
	require.NoError(t, os.WriteFile(path, []byte("Berlin\r\n\nParis\n  \nZürich"), 0o644))

	got, err := ReadCities(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Berlin", "Paris", "Zürich"}, got)

	_, err = ReadCities(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, store.ErrNoArtifacts)
}

func TestGeocodeStage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data", "raw"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, store.CitiesList), []byte("Berlin\nAtlantis\n"), 0o644))

	geo := &fakeGeocoder{features: map[string]model.CityFeature{"Berlin, europe": berlin}}
	m := metrics.New()
	r := New(Options{Root: root, Geocoder: geo, RegionHint: "europe", Metrics: m, Now: clock("20160131_120000")})

	rec, err := r.Geocode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data/raw/geocoded_20160131_120000.json", rec.Path)
	assert.Equal(t, []string{"Berlin, europe", "Atlantis, europe"}, geo.queries)

	var got model.GeocodedCities
	require.NoError(t, store.ReadJSON(filepath.Join(root, rec.Path), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Berlin", got[0].Key())
	assert.False(t, got[1].Located())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeocodeRequests.WithLabelValues("fake", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeocodeRequests.WithLabelValues("fake", "ZERO_RESULTS")))

	man, err := store.LoadManifest(filepath.Join(root, store.ManifestPath))
	require.NoError(t, err)
	latest, ok := man.Latest("geocoded")
	require.True(t, ok)
	assert.Equal(t, rec.ID, latest.ID)
}

func TestFetchGroupsTwoCities(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, store.StageGeocoded, "20160101_000000", model.GeocodedCities{berlin, paris})
	api := newMeetupAPI(t)

	r := New(Options{Root: root, Meetup: api.client(), Now: clock("20160131_120000")})
	rec, err := r.FetchGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data/interim/meetups_in_cities_20160131_120000.json", rec.Path)

	var got model.GroupsByCity
	require.NoError(t, store.ReadJSON(filepath.Join(root, rec.Path), &got))
	require.Len(t, got, 2)
	require.Len(t, got["Berlin"], 2)
	require.Len(t, got["Paris"], 2)
	assert.Equal(t, "go-berlin", got["Berlin"][0].URLName)
	assert.Equal(t, "rust-paris", got["Paris"][1].URLName)
}

func TestFetchGroupsSkipsUnlocatedCities(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, store.StageGeocoded, "20160101_000000", model.GeocodedCities{
		berlin, model.NewUnlocatedFeature("Atlantis, europe", "ZERO_RESULTS", "fake"),
	})
	api := newMeetupAPI(t)

	r := New(Options{Root: root, Meetup: api.client(), Now: clock("20160131_120000")})
	rec, err := r.FetchGroups(context.Background())
	require.NoError(t, err)

	var got model.GroupsByCity
	require.NoError(t, store.ReadJSON(filepath.Join(root, rec.Path), &got))
	assert.Len(t, got["Berlin"], 2)
	assert.Contains(t, got, "null")
	assert.Empty(t, got["null"])
}

func TestFetchGroupsWarnsOnDuplicateKey(t *testing.T) {
	logs := observeLogs(t)
	root := t.TempDir()
	unnamedDE := model.NewCityFeature(model.CityProperties{Address: "Mitte, europe", Country: "DE", Lat: 52.52, Lng: 13.40},
		[4]float64{13.3, 52.5, 13.5, 52.6})
	unnamedFR := model.NewCityFeature(model.CityProperties{Address: "Marais, europe", Country: "FR", Lat: 48.86, Lng: 2.36},
		[4]float64{2.3, 48.8, 2.4, 48.9})
	writeArtifact(t, root, store.StageGeocoded, "20160101_000000", model.GeocodedCities{unnamedDE, unnamedFR})
	api := newMeetupAPI(t)

	r := New(Options{Root: root, Meetup: api.client(), Now: clock("20160131_120000")})
	rec, err := r.FetchGroups(context.Background())
	require.NoError(t, err)

	var got model.GroupsByCity
	require.NoError(t, store.ReadJSON(filepath.Join(root, rec.Path), &got))
	require.Len(t, got["null"], 2)
	assert.Equal(t, "go-paris", got["null"][0].URLName)

	warned := logs.FilterMessage("duplicate city key, replacing groups").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zapcore.WarnLevel, warned[0].Level)
	assert.Equal(t, "null", warned[0].ContextMap()["city"])
	assert.Equal(t, "Marais, europe", warned[0].ContextMap()["address"])
}

func TestFetchGroupsFailureWritesNothing(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, store.StageGeocoded, "20160101_000000", model.GeocodedCities{berlin})
	api := newMeetupAPI(t)
	api.groupStatus = http.StatusInternalServerError

	r := New(Options{Root: root, Meetup: api.client(), Now: clock("20160131_120000")})
	_, err := r.FetchGroups(context.Background())
	var apiErr *meetup.APIError
	require.ErrorAs(t, err, &apiErr)

	_, statErr := os.Stat(filepath.Join(root, "data", "interim"))
	assert.True(t, os.IsNotExist(statErr), "no artifact after a failed stage")
	_, statErr = os.Stat(filepath.Join(root, store.ManifestPath))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchEventsFetchesEachGroupOnce(t *testing.T) {
	root := t.TempDir()
	shared := model.Group{ID: 9, URLName: "eu-gophers"}
	writeArtifact(t, root, store.StageGroups, "20160101_000000", model.GroupsByCity{
		"Berlin": {{ID: 1, URLName: "go-berlin"}, shared},
		"Paris":  {shared},
		"null":   {},
	})
	api := newMeetupAPI(t)

	r := New(Options{Root: root, Meetup: api.client(), Now: clock("20160131_130000")})
	rec, err := r.FetchEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data/interim/events_in_cities_20160131_130000.json", rec.Path)
	assert.Equal(t, map[string]int{"go-berlin": 1, "eu-gophers": 1}, api.eventCalls)

	var got model.EventsByCity
	require.NoError(t, store.ReadJSON(filepath.Join(root, rec.Path), &got))
	require.Len(t, got["Berlin"], 2)
	require.Len(t, got["Paris"], 1)
	assert.Equal(t, got["Berlin"][1], got["Paris"][0])
	assert.Equal(t, "go-berlin-1", got["Berlin"][0][0].ID)
	assert.Empty(t, got["null"])
}

func TestSummarizeWritesSortedCSV(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, store.StageGeocoded, "20160101_000000", model.GeocodedCities{berlin, paris})
	inside := time.Date(2016, 2, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	venue := &model.Venue{Lat: 52.5, Lon: 13.4}
	writeArtifact(t, root, store.StageEvents, "20160115_093000", model.EventsByCity{
		"Berlin": {{{ID: "a", Created: inside, Venue: venue}, {ID: "b", Created: inside, Venue: venue}}},
		"Paris":  {{{ID: "c", Created: inside, Venue: &model.Venue{Lat: 48.86, Lon: 2.35}}}},
	})

	m := metrics.New()
	r := New(Options{Root: root, Metrics: m, Summary: summary.Options{
		Cutoff: time.Date(2015, 9, 30, 0, 0, 0, 0, time.UTC), Location: time.UTC,
	}})
	rec, err := r.Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data/processed/events_in_cities_20160115_093000.csv", rec.Path)

	b, err := os.ReadFile(filepath.Join(root, rec.Path))
	require.NoError(t, err)
	assert.Equal(t, "city,total\nParis,1\nBerlin,2\n", string(b))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsCounted))
}

func TestSummarizeRenamesNullCity(t *testing.T) {
	root := t.TempDir()
	lux := model.NewCityFeature(model.CityProperties{Address: "Luxembourg, europe", Country: "LU", Lat: 49.61, Lng: 6.13},
		[4]float64{6.0, 49.5, 6.3, 49.7})
	writeArtifact(t, root, store.StageGeocoded, "20160101_000000", model.GeocodedCities{lux})
	created := time.Date(2016, 2, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	writeArtifact(t, root, store.StageEvents, "20160115_093000", model.EventsByCity{
		"null": {{{ID: "x", Created: created, Venue: &model.Venue{Lat: 49.6, Lon: 6.1}}}},
	})

	r := New(Options{Root: root, Summary: summary.Options{
		Cutoff: time.Date(2015, 9, 30, 0, 0, 0, 0, time.UTC), Location: time.UTC, NullCity: "Luxembourg",
	}})
	rec, err := r.Summarize(context.Background())
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(root, rec.Path))
	require.NoError(t, err)
	assert.Equal(t, "city,total\nLuxembourg,1\n", string(b))

	// Without a null key the rename has nothing to work with.
	root2 := t.TempDir()
	writeArtifact(t, root2, store.StageGeocoded, "20160101_000000", model.GeocodedCities{lux})
	writeArtifact(t, root2, store.StageEvents, "20160115_093000", model.EventsByCity{"Berlin": {}})
	r2 := New(Options{Root: root2, Summary: summary.Options{NullCity: "Luxembourg"}})
	_, err = r2.Summarize(context.Background())
	assert.ErrorIs(t, err, summary.ErrMissingCity)
}

func summaryInputs(t *testing.T, root string) {
	t.Helper()
	writeArtifact(t, root, store.StageGeocoded, "20160101_000000", model.GeocodedCities{berlin})
	created := time.Date(2016, 2, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	writeArtifact(t, root, store.StageEvents, "20160115_093000", model.EventsByCity{
		"Berlin": {{{ID: "a", Created: created, Venue: &model.Venue{Lat: 52.5, Lon: 13.4}}}},
	})
}

func TestFailedSinkLeavesNoLocalArtifact(t *testing.T) {
	root := t.TempDir()
	summaryInputs(t, root)
	csvPath := filepath.Join(root, "data/processed/events_in_cities_20160115_093000.csv")

	r := New(Options{Root: root, Sinks: []sink.Sink{sink.NewLocal(root), failingSink{}}})
	_, err := r.Summarize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink remote")
	assert.NoFileExists(t, csvPath)
	assert.NoFileExists(t, filepath.Join(root, store.ManifestPath))

	// A rerun without the failing sink is not blocked by a leftover file.
	rec, err := New(Options{Root: root}).Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data/processed/events_in_cities_20160115_093000.csv", rec.Path)
	assert.FileExists(t, csvPath)
}

func TestManifestFailureDiscardsArtifact(t *testing.T) {
	root := t.TempDir()
	manifest := filepath.Join(root, store.ManifestPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(manifest), 0o755))
	require.NoError(t, os.WriteFile(manifest, []byte("{not json"), 0o644))
	ts, err := store.ParseTimestamp("20160115_093000")
	require.NoError(t, err)
	csvPath := filepath.Join(root, "data/processed/events_in_cities_20160115_093000.csv")

	r := New(Options{Root: root})
	_, err = r.publish(context.Background(), store.StageSummary, ts, "text/csv", []byte("city,total\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest")
	assert.NoFileExists(t, csvPath)

	require.NoError(t, os.Remove(manifest))
	_, err = r.publish(context.Background(), store.StageSummary, ts, "text/csv", []byte("city,total\n"))
	require.NoError(t, err)
	assert.FileExists(t, csvPath)
}

func TestStagesReportMissingInput(t *testing.T) {
	root := t.TempDir()
	api := newMeetupAPI(t)
	r := New(Options{Root: root, Meetup: api.client(), Geocoder: &fakeGeocoder{}})

	_, err := r.Geocode(context.Background())
	assert.ErrorIs(t, err, store.ErrNoArtifacts)
	_, err = r.FetchGroups(context.Background())
	assert.ErrorIs(t, err, store.ErrNoArtifacts)
	_, err = r.FetchEvents(context.Background())
	assert.ErrorIs(t, err, store.ErrNoArtifacts)
	_, err = r.Summarize(context.Background())
	assert.ErrorIs(t, err, store.ErrNoArtifacts)
}

func TestStageRequiresCollaborators(t *testing.T) {
	r := New(Options{Root: t.TempDir()})
	_, err := r.Geocode(context.Background())
	assert.Error(t, err)
	_, err = r.FetchGroups(context.Background())
	assert.Error(t, err)
}
