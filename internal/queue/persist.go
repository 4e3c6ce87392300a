package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const fileName = "queues.json"

// document is the on-disk shape of queues.json (see the persisted-state
// contract): unknown fields are ignored on read so the format is
// forward-compatible.
type document struct {
	Version int                 `json:"version"`
	Queues  map[string]queueDoc `json:"queues"`
}

type queueDoc struct {
	Pending []Task `json:"pending"`
	History []Task `json:"history"`
}

// store persists a document to a single JSON file using a
// write-temp-then-rename so a crash mid-write never corrupts the
// previous, valid file.
type store struct {
	path string
}

func newStore(dataDir string) (*store, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: ensure data dir: %w", err)
	}
	return &store{path: filepath.Join(dataDir, fileName)}, nil
}

func (s *store) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Version: 1, Queues: map[string]queueDoc{}}, nil
		}
		return document{}, fmt.Errorf("queue: read %s: %w", s.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("queue: parse %s: %w", s.path, err)
	}
	if doc.Queues == nil {
		doc.Queues = map[string]queueDoc{}
	}
	return doc, nil
}

func (s *store) save(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: encode %s: %w", s.path, err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".queues-*.json.tmp")
	if err != nil {
		return fmt.Errorf("queue: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("queue: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("queue: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("queue: rename temp file: %w", err)
	}
	return nil
}
