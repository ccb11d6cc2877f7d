package offline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Journal persists queue state across restarts
type Journal interface {
	Load() (State, error)
	Save(State) error
}

// FileJournal keeps the whole queue in one CBOR file. Every Save writes a
// temp file, syncs it and renames it over the previous snapshot, so a crash
// leaves either the old state or the new one.
type FileJournal struct {
	path string
	mu   sync.Mutex
}

// NewFileJournal creates a journal at path. The directory is created on
// first save.
func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path}
}

func (j *FileJournal) Load() (State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("reading queue journal: %w", err)
	}
	if len(data) == 0 {
		return State{}, nil
	}

	var state State
	if err := unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decoding queue journal %s: %w", j.path, err)
	}
	return state, nil
}

func (j *FileJournal) Save(state State) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := marshal(state)
	if err != nil {
		return fmt.Errorf("encoding queue journal: %w", err)
	}

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating journal directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".queue-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp journal file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing journal: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing journal: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp journal file: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("renaming journal file: %w", err)
	}
	success = true

	// Make the rename itself durable.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// MemoryJournal keeps state in memory. It still round-trips through CBOR so
// tests see exactly what a file journal would restore.
type MemoryJournal struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Load() (State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var state State
	if len(j.data) == 0 {
		return state, nil
	}
	if err := unmarshal(j.data, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

func (j *MemoryJournal) Save(state State) error {
	data, err := marshal(state)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.data = data
	j.mu.Unlock()
	return nil
}
