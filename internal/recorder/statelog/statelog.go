// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package statelog persists per-chunk upload/download outcomes in an
// append-only text file so a crashed worker can resume without repeating
// finished work. Line grammar:
//
//	SUCCESS:<filename>
//	FAILED:<filename>:<epochSeconds>
//
// Readers tolerate a torn final line.
package statelog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Log is an append-only state log for one session.
type Log struct {
	mu   sync.Mutex
	path string
}

// New opens (or creates) the state log at path.
func New(path string) *Log {
	return &Log{path: path}
}

// UploadPath returns the canonical upload log location for a session.
func UploadPath(dir, sessionID string) string {
	return filepath.Join(dir, "upload-state-"+sessionID+".txt")
}

// DownloadPath returns the canonical download log location for a session.
func DownloadPath(dir, sessionID string) string {
	return filepath.Join(dir, "download-state-"+sessionID+".txt")
}

// Path returns the backing file location.
func (l *Log) Path() string {
	return l.path
}

// MarkSuccess durably appends a SUCCESS line. The caller may delete the
// local file only after this returns nil.
func (l *Log) MarkSuccess(filename string) error {
	return l.append(fmt.Sprintf("SUCCESS:%s\n", filename))
}

// MarkFailed appends a FAILED line stamped with the current epoch second.
func (l *Log) MarkFailed(filename string) error {
	return l.append(fmt.Sprintf("FAILED:%s:%d\n", filename, time.Now().Unix()))
}

func (l *Log) append(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Snapshot is the parsed view of a state log.
type Snapshot struct {
	// Succeeded holds filenames with at least one SUCCESS line.
	Succeeded map[string]bool
	// Failed maps filenames to the epoch of their most recent FAILED line.
	// A later SUCCESS clears the entry.
	Failed map[string]int64
}

// Read parses the log. A missing file yields an empty snapshot.
func (l *Log) Read() (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		Succeeded: make(map[string]bool),
		Failed:    make(map[string]int64),
	}

	f, err := os.Open(l.path) // #nosec G304
	if os.IsNotExist(err) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "SUCCESS:"):
			name := strings.TrimPrefix(line, "SUCCESS:")
			if name == "" {
				continue
			}
			snap.Succeeded[name] = true
			delete(snap.Failed, name)
		case strings.HasPrefix(line, "FAILED:"):
			rest := strings.TrimPrefix(line, "FAILED:")
			name, epochStr, ok := strings.Cut(rest, ":")
			if !ok || name == "" {
				continue // torn or malformed line
			}
			epoch, err := strconv.ParseInt(epochStr, 10, 64)
			if err != nil {
				continue
			}
			if !snap.Succeeded[name] {
				snap.Failed[name] = epoch
			}
		}
	}
	return snap, scanner.Err()
}

// HasSuccess reports whether filename already has a SUCCESS line.
func (l *Log) HasSuccess(filename string) (bool, error) {
	snap, err := l.Read()
	if err != nil {
		return false, err
	}
	return snap.Succeeded[filename], nil
}
