package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const currentLogName = "audit.log"

// FileSink appends audit events to a newline-delimited JSON file
type FileSink struct {
	basePath string
	file     *os.File
	writer   *bufio.Writer
	mu       sync.Mutex
	maxSize  int64 // Max file size in bytes before rotation
	maxFiles int   // Max number of rotated files to keep
	size     int64
	now      func() time.Time
}

// FileSinkConfig configures the file sink
type FileSinkConfig struct {
	BasePath string // Directory for audit logs
	MaxSize  int64  // Max file size in bytes (default: 10MB)
	MaxFiles int    // Max number of rotated files to keep (default: 5)
}

// DefaultFileSinkConfig returns default configuration
func DefaultFileSinkConfig() FileSinkConfig {
	return FileSinkConfig{
		BasePath: "/var/log/codeck/audit",
		MaxSize:  10 * 1024 * 1024,
		MaxFiles: 5,
	}
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a new file-based audit sink
func NewFileSink(config FileSinkConfig) (*FileSink, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if err := os.MkdirAll(config.BasePath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	s := &FileSink{
		basePath: config.BasePath,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		now:      time.Now,
	}
	if s.maxSize <= 0 {
		s.maxSize = 10 * 1024 * 1024
	}
	if s.maxFiles <= 0 {
		s.maxFiles = 5
	}

	if err := s.openLogFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) currentPath() string {
	return filepath.Join(s.basePath, currentLogName)
}

// openLogFile opens or creates the current log file
func (s *FileSink) openLogFile() error {
	file, err := os.OpenFile(s.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}

	s.file = file
	s.writer = bufio.NewWriter(file)
	s.size = info.Size()
	return nil
}

// rotate renames the current file aside and starts a new one
func (s *FileSink) rotate() error {
	if err := s.closeFile(); err != nil {
		return err
	}

	rotated := filepath.Join(s.basePath, fmt.Sprintf("audit-%s.log", s.now().UTC().Format("20060102-150405.000000000")))
	if err := os.Rename(s.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if err := s.cleanupOldFiles(); err != nil {
		return err
	}
	return s.openLogFile()
}

// cleanupOldFiles removes rotated files beyond the retention limit
func (s *FileSink) cleanupOldFiles() error {
	files, err := s.rotatedFiles()
	if err != nil {
		return err
	}
	if len(files) <= s.maxFiles {
		return nil
	}
	for _, file := range files[:len(files)-s.maxFiles] {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove old audit log %s: %w", file, err)
		}
	}
	return nil
}

// rotatedFiles lists rotated files oldest first. The timestamp format sorts
// lexically.
func (s *FileSink) rotatedFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.basePath, "audit-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Write appends one event as a JSON line
func (s *FileSink) Write(ctx context.Context, event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("audit file sink closed")
	}
	if s.size > 0 && s.size+int64(len(line)) > s.maxSize {
		if err := s.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	n, err := s.writer.Write(line)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Flush writes buffered events and syncs the file to disk
func (s *FileSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}
	return s.file.Sync()
}

// Close flushes and closes the file sink
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeFile()
}

func (s *FileSink) closeFile() error {
	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file = nil
	s.writer = nil
	if flushErr != nil {
		return fmt.Errorf("failed to flush audit log: %w", flushErr)
	}
	return closeErr
}

// ReadEvents returns the last limit events of the current file, oldest
// first. A non-positive limit returns everything.
func (s *FileSink) ReadEvents(limit int) ([]Event, error) {
	file, err := os.Open(s.currentPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []Event
	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, event)
		if limit > 0 && len(events) > limit {
			events = events[1:]
		}
	}

	return events, nil
}
