package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNoArtifacts means a stage found nothing to read from its input directory.
var ErrNoArtifacts = errors.New("no artifacts found")

// CitiesList is the geocoder's input, relative to the project root.
const CitiesList = "data/raw/cities_list.txt"

// ManifestPath is the run index, relative to the project root.
const ManifestPath = "data/manifest.json"

// Stage describes where a pipeline stage writes its artifacts.
type Stage struct {
	Name   string
	Dir    string // relative to the project root
	Prefix string
	Ext    string
}

var (
	StageGeocoded = Stage{Name: "geocoded", Dir: "data/raw", Prefix: "geocoded", Ext: ".json"}
	StageGroups   = Stage{Name: "groups", Dir: "data/interim", Prefix: "meetups_in_cities", Ext: ".json"}
	StageEvents   = Stage{Name: "events", Dir: "data/interim", Prefix: "events_in_cities", Ext: ".json"}
	StageSummary  = Stage{Name: "summary", Dir: "data/processed", Prefix: "events_in_cities", Ext: ".csv"}
)

// RelPath is the artifact path for ts, relative to the project root.
func (s Stage) RelPath(ts Timestamp) string {
	return filepath.Join(s.Dir, ArtifactName(s.Prefix, ts, s.Ext))
}

// Timestamp is the (date, time) pair embedded in artifact names, e.g. 20160131_235959.
type Timestamp struct {
	Date int // YYYYMMDD
	Time int // HHMMSS
}

func NewTimestamp(t time.Time) Timestamp {
	ts, _ := ParseTimestamp(t.Format("20060102_150405"))
	return ts
}

// ParseTimestamp parses "<date>_<time>" where both parts are decimal digits.
func ParseTimestamp(s string) (Timestamp, error) {
	date, clock, ok := strings.Cut(s, "_")
	if !ok || !allDigits(date) || !allDigits(clock) {
		return Timestamp{}, fmt.Errorf("malformed timestamp %q", s)
	}
	d, err := strconv.Atoi(date)
	if err != nil {
		return Timestamp{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	c, err := strconv.Atoi(clock)
	if err != nil {
		return Timestamp{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return Timestamp{Date: d, Time: c}, nil
}

func (t Timestamp) String() string { return fmt.Sprintf("%08d_%06d", t.Date, t.Time) }

// Less orders by date, then time.
func (t Timestamp) Less(o Timestamp) bool {
	if t.Date != o.Date {
		return t.Date < o.Date
	}
	return t.Time < o.Time
}

func ArtifactName(prefix string, ts Timestamp, ext string) string {
	return prefix + "_" + ts.String() + ext
}

// ParseArtifactName extracts the timestamp from "<prefix>_<date>_<time><ext>".
// ok is false for any other name.
func ParseArtifactName(name, prefix, ext string) (Timestamp, bool) {
	if !strings.HasPrefix(name, prefix+"_") || !strings.HasSuffix(name, ext) {
		return Timestamp{}, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"_"), ext)
	ts, err := ParseTimestamp(mid)
	if err != nil {
		return Timestamp{}, false
	}
	return ts, true
}

// Latest returns the newest conforming artifact in dir.
func Latest(dir, prefix, ext string) (string, Timestamp, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", Timestamp{}, fmt.Errorf("%w in %s: directory does not exist", ErrNoArtifacts, dir)
	}
	if err != nil {
		return "", Timestamp{}, fmt.Errorf("list %s: %w", dir, err)
	}
	var (
		best  string
		bestT Timestamp
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, ok := ParseArtifactName(e.Name(), prefix, ext)
		if !ok {
			continue
		}
		if best == "" || bestT.Less(ts) {
			best, bestT = e.Name(), ts
		}
	}
	if best == "" {
		return "", Timestamp{}, fmt.Errorf("%w in %s matching %s_<date>_<time>%s; run the previous stage first",
			ErrNoArtifacts, dir, prefix, ext)
	}
	return filepath.Join(dir, best), bestT, nil
}

// EncodeJSON is the on-disk encoding shared by every JSON artifact.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON writes v to path, creating parent directories.
func WriteJSON(path string, v any) error {
	b, err := EncodeJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func ReadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
