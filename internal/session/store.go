package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a session log does not exist.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
type Store interface {
	Save(sess *Session) error
	Load(id string) (*Session, error)
}

// JSONL record types
const (
	RecordTypeHeader     = "header"     // Session identity (first line)
	RecordTypePerception = "perception" // One perception, in order
	RecordTypePlan       = "plan"       // One plan version, in order
	RecordTypeFooter     = "footer"     // Completion state (last line)
)

// JSONLRecord is a wrapper for JSONL lines with type discrimination.
type JSONLRecord struct {
	RecordType string `json:"_type"`

	// header
	ID            string `json:"session_id,omitempty"`
	OriginalQuery string `json:"original_query,omitempty"`

	// perception / plan
	Perception *Perception  `json:"perception,omitempty"`
	Plan       *PlanVersion `json:"plan,omitempty"`

	// footer
	State *State `json:"state,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// FileStore keeps one JSONL log per session under dir/YYYY/MM/DD/<id>.jsonl.
type FileStore struct {
	dir   string
	mu    sync.Mutex
	paths map[string]string
}

// NewFileStore creates a new file-based store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{dir: dir, paths: make(map[string]string)}, nil
}

// Dir returns the store's root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// PathFor returns the log path for a session.
func (s *FileStore) PathFor(sess *Session) string {
	t := sess.CreatedAt
	return filepath.Join(s.dir, t.Format("2006"), t.Format("01"), t.Format("02"), sess.ID+".jsonl")
}

// Save writes the whole session log. The file is replaced atomically so
// readers never observe a partial log.
func (s *FileStore) Save(sess *Session) error {
	data, err := encodeJSONL(sess)
	if err != nil {
		return err
	}

	path := s.PathFor(sess)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	s.mu.Lock()
	s.paths[sess.ID] = path
	s.mu.Unlock()
	return nil
}

func encodeJSONL(sess *Session) ([]byte, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	var buf bytes.Buffer
	records := []JSONLRecord{{
		RecordType:    RecordTypeHeader,
		ID:            sess.ID,
		OriginalQuery: sess.OriginalQuery,
		CreatedAt:     sess.CreatedAt.Format(timeLayout),
	}}
	for i := range sess.Perceptions {
		records = append(records, JSONLRecord{RecordType: RecordTypePerception, Perception: &sess.Perceptions[i]})
	}
	for _, v := range sess.PlanVersions {
		records = append(records, JSONLRecord{RecordType: RecordTypePlan, Plan: v})
	}
	state := sess.State
	records = append(records, JSONLRecord{
		RecordType: RecordTypeFooter,
		State:      &state,
		UpdatedAt:  sess.UpdatedAt.Format(timeLayout),
	})

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Load reads a session by ID.
func (s *FileStore) Load(id string) (*Session, error) {
	s.mu.Lock()
	path, ok := s.paths[id]
	s.mu.Unlock()

	if !ok {
		found, err := s.find(id)
		if err != nil {
			return nil, err
		}
		path = found
	}
	return LoadFile(path)
}

func (s *FileStore) find(id string) (string, error) {
	var found string
	name := id + ".jsonl"
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan session directory: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.mu.Lock()
	s.paths[id] = found
	s.mu.Unlock()
	return found, nil
}

// List returns the paths of all session logs, oldest directory first.
func (s *FileStore) List() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadFile reads a session log from path.
func LoadFile(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a JSONL session log.
func Decode(r io.Reader) (*Session, error) {
	sess := &Session{
		Perceptions:  []Perception{},
		PlanVersions: []*PlanVersion{},
	}

	// bufio.Reader has no line length limit, unlike Scanner
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if perr := parseJSONLLine(trimmed, sess); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
	}

	if sess.ID == "" {
		return nil, fmt.Errorf("session log has no header")
	}
	return sess, nil
}

func parseJSONLLine(line []byte, sess *Session) error {
	var record JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse JSONL line: %w", err)
	}

	switch record.RecordType {
	case RecordTypeHeader:
		sess.ID = record.ID
		sess.OriginalQuery = record.OriginalQuery
		sess.CreatedAt = parseTime(record.CreatedAt)
	case RecordTypePerception:
		if record.Perception != nil {
			sess.Perceptions = append(sess.Perceptions, *record.Perception)
		}
	case RecordTypePlan:
		if record.Plan != nil {
			sess.PlanVersions = append(sess.PlanVersions, record.Plan)
		}
	case RecordTypeFooter:
		if record.State != nil {
			sess.State = *record.State
		}
		sess.UpdatedAt = parseTime(record.UpdatedAt)
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
