package store

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Record is one artifact written by a stage run.
type Record struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	Path      string    `json:"path"` // relative to the project root
	Timestamp string    `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// Manifest indexes artifacts by stage so readers need not parse file names.
type Manifest struct {
	Runs []Record `json:"runs"`
}

// LoadManifest reads the manifest at path. A missing file yields an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if err := ReadJSON(path, &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Manifest{}, nil
		}
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) Save(path string) error {
	return WriteJSON(path, m)
}

// Add appends a record with a fresh run ID.
func (m *Manifest) Add(stage Stage, ts Timestamp, now time.Time) Record {
	r := Record{
		ID:        uuid.NewString(),
		Stage:     stage.Name,
		Path:      filepath.ToSlash(stage.RelPath(ts)),
		Timestamp: ts.String(),
		CreatedAt: now.UTC(),
	}
	m.Runs = append(m.Runs, r)
	return r
}

// Latest returns the newest record of stage. Later records win timestamp ties.
func (m *Manifest) Latest(stage string) (Record, bool) {
	var (
		best  Record
		bestT Timestamp
		found bool
	)
	for _, r := range m.Runs {
		if r.Stage != stage {
			continue
		}
		ts, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			continue
		}
		if !found || !ts.Less(bestT) {
			best, bestT, found = r, ts, true
		}
	}
	return best, found
}

// Resolve finds the newest artifact of stage under root. Manifest records are
// preferred; files the manifest does not know about are found by name and win
// only when strictly newer.
func Resolve(root string, stage Stage) (string, Timestamp, error) {
	m, err := LoadManifest(filepath.Join(root, ManifestPath))
	if err != nil {
		return "", Timestamp{}, err
	}
	scanned, scannedT, scanErr := Latest(filepath.Join(root, stage.Dir), stage.Prefix, stage.Ext)
	if r, ok := m.Latest(stage.Name); ok {
		path := filepath.Join(root, filepath.FromSlash(r.Path))
		if _, err := os.Stat(path); err == nil {
			ts, _ := ParseTimestamp(r.Timestamp)
			if scanErr != nil || !ts.Less(scannedT) {
				return path, ts, nil
			}
		}
	}
	return scanned, scannedT, scanErr
}
