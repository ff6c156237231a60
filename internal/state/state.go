// Package state persists the durable crawl state: append-only logs of
// normalized visited URLs and extracted-content digests. Both logs are read
// fully into memory on Open and appended to as entries are added, so a crawl
// resumes across restarts without re-fetching known URLs or re-saving known
// content.
//
// Content digests are claimed in memory while a document is being stored and
// only reach the log once the document is saved. A claim released after a
// failed save leaves no trace on disk.
package state

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Log file names inside the state directory.
const (
	VisitedFile = "visited_urls.log"
	HashesFile  = "content_hashes.log"
)

// Store is the durable crawl state. It is safe for concurrent use; appends are
// serialized so lines never interleave.
type Store struct {
	mu      sync.Mutex
	visited *appendLog
	hashes  *appendLog
	claims  map[string]struct{}
	logger  *zap.Logger
}

// Open loads (or creates) the logs under dir.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	visited, err := openAppendLog(filepath.Join(dir, VisitedFile))
	if err != nil {
		return nil, err
	}
	hashes, err := openAppendLog(filepath.Join(dir, HashesFile))
	if err != nil {
		return nil, errors.Join(err, visited.close())
	}
	logger.Info("crawl state loaded",
		zap.String("dir", dir),
		zap.Int("visited_urls", len(visited.entries)),
		zap.Int("content_hashes", len(hashes.entries)),
	)
	return &Store{visited: visited, hashes: hashes, claims: make(map[string]struct{}), logger: logger}, nil
}

// Visited reports whether key is in the persisted URL log.
func (s *Store) Visited(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited.has(key)
}

// MarkVisited appends key to the URL log unless it is already present.
func (s *Store) MarkVisited(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.visited.add(key); err != nil {
		return fmt.Errorf("append visited url: %w", err)
	}
	return nil
}

// SeenHash reports whether digest is in the persisted hash log.
func (s *Store) SeenHash(digest string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashes.has(digest)
}

// ClaimHash reserves digest for a document about to be stored. It reports
// false when the digest is already logged or claimed, which marks the content
// as a duplicate. A claim must be followed by CommitHash or ReleaseHash.
func (s *Store) ClaimHash(digest string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	digest, err := s.hashes.check(digest)
	if err != nil {
		return false, fmt.Errorf("claim content hash: %w", err)
	}
	if _, claimed := s.claims[digest]; claimed || s.hashes.has(digest) {
		return false, nil
	}
	s.claims[digest] = struct{}{}
	return true, nil
}

// CommitHash appends a claimed digest to the hash log.
func (s *Store) CommitHash(digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, strings.TrimSpace(digest))
	if _, err := s.hashes.add(digest); err != nil {
		return fmt.Errorf("append content hash: %w", err)
	}
	return nil
}

// ReleaseHash drops a claim without logging it.
func (s *Store) ReleaseHash(digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, strings.TrimSpace(digest))
}

// Counts returns the number of visited URLs and content hashes.
func (s *Store) Counts() (visited, hashes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visited.entries), len(s.hashes.entries)
}

// Close flushes and closes both logs.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.visited.close(), s.hashes.close())
}

type appendLog struct {
	path    string
	file    *os.File
	entries map[string]struct{}
}

func openAppendLog(path string) (*appendLog, error) {
	entries := make(map[string]struct{})
	complete, torn, err := readLog(path, entries)
	if err != nil {
		return nil, err
	}
	if torn {
		if err := os.Truncate(path, complete); err != nil {
			return nil, fmt.Errorf("repair %s: %w", path, err)
		}
	}
	// #nosec G304 -- path is built from the configured state directory.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &appendLog{path: path, file: file, entries: entries}, nil
}

// readLog loads one entry per complete, non-empty line and returns the size
// of that complete prefix. A final line without a newline is left by a process
// that died mid-append; it is not loaded and torn is reported.
func readLog(path string, into map[string]struct{}) (complete int64, torn bool, err error) {
	// #nosec G304 -- path is built from the configured state directory.
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close() //nolint:errcheck // read-only handle

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return complete, line != "", nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("read %s: %w", path, err)
		}
		complete += int64(len(line))
		if entry := strings.TrimSpace(line); entry != "" {
			into[entry] = struct{}{}
		}
	}
}

func (l *appendLog) has(entry string) bool {
	_, ok := l.entries[entry]
	return ok
}

// check trims entry and rejects values that cannot be stored as one line, or
// any value once the log is closed.
func (l *appendLog) check(entry string) (string, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", fmt.Errorf("empty entry")
	}
	if strings.ContainsAny(entry, "\r\n") {
		return "", fmt.Errorf("entry contains a line break")
	}
	if l.file == nil {
		return "", fmt.Errorf("%s is closed", l.path)
	}
	return entry, nil
}

// add appends and syncs entry unless present. The in-memory set only changes
// after the line is on disk.
func (l *appendLog) add(entry string) (bool, error) {
	entry, err := l.check(entry)
	if err != nil {
		return false, err
	}
	if l.has(entry) {
		return false, nil
	}
	if _, err := l.file.WriteString(entry + "\n"); err != nil {
		return false, err
	}
	if err := l.file.Sync(); err != nil {
		return false, fmt.Errorf("sync %s: %w", l.path, err)
	}
	l.entries[entry] = struct{}{}
	return true, nil
}

func (l *appendLog) close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", l.path, err)
	}
	return nil
}
