package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps the ledger as a single indented JSON object keyed by tool name.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the ledger. A missing file is an empty ledger.
func (s *FileStore) Load() (map[string]Stats, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Stats{}, nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var stats map[string]Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse ledger: %w", err)
	}
	if stats == nil {
		stats = map[string]Stats{}
	}
	return stats, nil
}

// Save replaces the ledger file with stats.
func (s *FileStore) Save(stats map[string]Stats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return os.Rename(tmp, s.path)
}
