// Package store persists the client's task data and its config.json.
//
// The data file is an opaque JSON document owned by the web client; the server
// only reads it back verbatim, writes it pretty-printed, and hands out a
// default board when nothing has been saved yet.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const (
	// ConfigFileName is the client config file in the install directory.
	ConfigFileName = "config.json"

	// DefaultDataPath is used when config.json does not name a data file.
	DefaultDataPath = "./data/tasks.json"
)

var windowsAbsPattern = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// ErrInvalidJSON is returned when a document to be written does not parse.
var ErrInvalidJSON = errors.New("invalid JSON document")

// Label is a task label on the default board.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Column is a board column on the default board.
type Column struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Settings are the client preferences stored with the board.
type Settings struct {
	Theme               string `json:"theme"`
	DataFilePath        string `json:"dataFilePath"`
	AutoRefreshEnabled  bool   `json:"autoRefreshEnabled"`
	AutoRefreshInterval int    `json:"autoRefreshInterval"`
	Language            string `json:"language"`
}

// Data is the shape of a freshly created data file.
type Data struct {
	Profiles []any    `json:"profiles"`
	Tasks    []any    `json:"tasks"`
	Labels   []Label  `json:"labels"`
	Columns  []Column `json:"columns"`
	Settings Settings `json:"settings"`
}

// DefaultData returns the board served before the client has saved anything.
func DefaultData() Data {
	return Data{
		Profiles: []any{},
		Tasks:    []any{},
		Labels: []Label{
			{ID: "label-1", Name: "Bug", Color: "red"},
			{ID: "label-2", Name: "Feature", Color: "blue"},
			{ID: "label-3", Name: "Urgent", Color: "orange"},
		},
		Columns: []Column{
			{ID: "col-plan", Name: "Plan", Order: 0},
			{ID: "col-execute", Name: "Execute", Order: 1},
			{ID: "col-blocked", Name: "Blocked", Order: 2},
			{ID: "col-done", Name: "Done", Order: 3},
		},
		Settings: Settings{
			Theme:               "light",
			DataFilePath:        DefaultDataPath,
			AutoRefreshEnabled:  true,
			AutoRefreshInterval: 5000,
			Language:            "en",
		},
	}
}

// Store reads and writes the data and config files under an install directory.
type Store struct {
	root string
	mu   sync.Mutex
}

// New creates a store rooted at the install directory.
func New(root string) *Store {
	return &Store{root: root}
}

// ConfigPath returns the path of config.json.
func (s *Store) ConfigPath() string {
	return filepath.Join(s.root, ConfigFileName)
}

// ReadConfig returns config.json, or a config naming the default data path
// when the file does not exist.
func (s *Store) ReadConfig() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readConfig()
}

func (s *Store) readConfig() (map[string]any, error) {
	data, err := os.ReadFile(s.ConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{"dataFilePath": DefaultDataPath}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ConfigFileName, err)
	}

	cfg := make(map[string]any)
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ConfigFileName, err)
	}
	return cfg, nil
}

// MergeConfig merges patch over the current config and writes the result. If
// the resulting data file does not exist yet it is created with DefaultData.
func (s *Store) MergeConfig(patch map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.readConfig()
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		cfg[k] = v
	}

	if err := writeJSON(s.ConfigPath(), cfg); err != nil {
		return nil, err
	}

	dataPath := s.resolveDataPath(cfg)
	if _, err := os.Stat(dataPath); errors.Is(err, os.ErrNotExist) {
		if err := writeJSON(dataPath, DefaultData()); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// DataPath returns the resolved path of the data file.
func (s *Store) DataPath() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.readConfig()
	if err != nil {
		return "", err
	}
	return s.resolveDataPath(cfg), nil
}

func (s *Store) resolveDataPath(cfg map[string]any) string {
	p, _ := cfg["dataFilePath"].(string)
	if p == "" {
		p = DefaultDataPath
	}
	if isAbsolute(p) {
		return p
	}
	return filepath.Join(s.root, filepath.FromSlash(p))
}

// isAbsolute accepts POSIX, drive-letter and UNC paths regardless of the
// host OS, since config.json may travel between machines.
func isAbsolute(p string) bool {
	return filepath.IsAbs(p) ||
		strings.HasPrefix(p, "/") ||
		strings.HasPrefix(p, `\\`) ||
		windowsAbsPattern.MatchString(p)
}

// ReadData returns the stored data document, or DefaultData encoded as JSON
// when the data file does not exist.
func (s *Store) ReadData() (json.RawMessage, error) {
	path, err := s.DataPath()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return json.Marshal(DefaultData())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("failed to parse data file %s: %w", path, ErrInvalidJSON)
	}
	return data, nil
}

// WriteData replaces the data file with doc, pretty-printed.
func (s *Store) WriteData(doc json.RawMessage) error {
	path, err := s.DataPath()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	buf.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFile(path, buf.Bytes())
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, append(data, '\n'))
}

// writeFile writes through a temp file in the same directory and renames it
// into place.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
