package storage

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// Storage appends records to a daily file named <prefix>_YYYY-MM-DD.log.
// When the UTC day changes the previous file is gzip-compressed.
type Storage struct {
	outputDir string
	prefix    string
	now       func() time.Time

	file     *os.File
	day      string
	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Storage writing <prefix>_YYYY-MM-DD.log files in outputDir
func New(outputDir, prefix string) *Storage {
	return &Storage{
		outputDir: outputDir,
		prefix:    prefix,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// FileName returns the log file name for the given day
func (s *Storage) FileName(day time.Time) string {
	return filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.log", s.prefix, day.UTC().Format(dayLayout)))
}

// Start opens today's file and rotates at every UTC midnight
func (s *Storage) Start() error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	s.mu.Lock()
	err := s.rotate()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.rotationTimer()
	return nil
}

// Stop closes the current file and stops the rotation timer
func (s *Storage) Stop() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// WriteRecord writes v as one JSON line
func (s *Storage) WriteRecord(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.WriteMessage(data)
}

// WriteMessage writes a line to the current file, rotating first when the day changed
func (s *Storage) WriteMessage(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil || s.day != s.now().UTC().Format(dayLayout) {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	line := message
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append(make([]byte, 0, len(message)+1), message...), '\n')
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (s *Storage) rotationTimer() {
	defer s.wg.Done()

	for {
		now := s.now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		timer := time.NewTimer(nextMidnight.Sub(now))

		select {
		case <-timer.C:
			s.mu.Lock()
			err := s.rotate()
			s.mu.Unlock()
			if err != nil {
				log.Printf("Error during rotation: %v", err)
			}
		case <-s.stopChan:
			timer.Stop()
			return
		}
	}
}

// rotate switches to today's file and compresses the one it replaces.
// The caller holds s.mu.
func (s *Storage) rotate() error {
	today := s.now().UTC().Format(dayLayout)
	if s.file != nil && s.day == today {
		return nil
	}

	var previous string
	if s.file != nil {
		previous = s.file.Name()
		if err := s.file.Close(); err != nil {
			log.Printf("Warning: Failed to close %s: %v", previous, err)
		}
		s.file = nil
	}

	filename := filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.log", s.prefix, today))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	s.file = file
	s.day = today

	// the new file is already open; a failed compression leaves the old file in place
	if previous != "" && previous != filename {
		if err := compressFile(previous); err != nil {
			log.Printf("Warning: Failed to compress %s: %v", previous, err)
		}
	}
	return nil
}

// compressFile replaces path with path.gz
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		gzipWriter.Close()
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}
	if err := target.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}
