// journal/file.go
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileJournal appends one JSON document per line to <dir>/<symbol>_journal.jsonl.
type FileJournal struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
}

// NewFileJournal creates dir if needed and opens the journal file for append.
func NewFileJournal(dir, symbol string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_journal.jsonl", symbol))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	return &FileJournal{filePath: path, file: f}, nil
}

// Path returns the journal file location.
func (j *FileJournal) Path() string { return j.filePath }

func (j *FileJournal) Record(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal journal event: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("journal %s is closed", j.filePath)
	}
	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("failed to write journal event: %w", err)
	}
	return nil
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
