package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/agentorch/ao/internal/oerr"
)

// Log is the append-only JSONL event log. A single Log instance owns its
// file; all appends go through one mutex so records never interleave.
// When the file exceeds maxBytes it is rotated to a numbered backup:
// events.1.jsonl is the oldest backup, higher numbers are newer, and at
// most maxBackups are kept.
type Log struct {
	mu         sync.Mutex
	path       string
	maxBytes   int64
	maxBackups int
	f          *os.File
	size       int64
}

// OpenLog opens (or creates) the event log at path.
func OpenLog(path string, maxBytes int64, maxBackups int) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, oerr.Wrap(oerr.KindMetadata, err, "opening event log")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, oerr.Wrap(oerr.KindMetadata, err, "stating event log")
	}
	return &Log{
		path:       path,
		maxBytes:   maxBytes,
		maxBackups: maxBackups,
		f:          f,
		size:       info.Size(),
	}, nil
}

// Append writes one event as a JSON line, rotating first if the write
// would push the file past the size cap.
func (l *Log) Append(e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return oerr.Wrap(oerr.KindMetadata, err, "encoding event")
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size > 0 && l.size+int64(len(line)) > l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := l.f.Write(line)
	l.size += int64(n)
	if err != nil {
		return oerr.Wrap(oerr.KindMetadata, err, "appending event")
	}
	return nil
}

var backupRe = regexp.MustCompile(`^events\.(\d+)\.jsonl$`)

// backupNumbers returns the numeric suffixes of existing backups, sorted
// ascending (oldest first).
func (l *Log) backupNumbers() ([]int, error) {
	entries, err := os.ReadDir(filepath.Dir(l.path))
	if err != nil {
		return nil, oerr.Wrap(oerr.KindMetadata, err, "listing event log backups")
	}
	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := backupRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)
	return nums, nil
}

func (l *Log) backupPath(n int) string {
	return filepath.Join(filepath.Dir(l.path), fmt.Sprintf("events.%d.jsonl", n))
}

// rotateLocked closes the current file, renames it to the next backup
// number, prunes the oldest backups past maxBackups, and reopens a fresh
// log. Callers hold l.mu.
func (l *Log) rotateLocked() error {
	if err := l.f.Close(); err != nil {
		return oerr.Wrap(oerr.KindMetadata, err, "closing event log for rotation")
	}

	nums, err := l.backupNumbers()
	if err != nil {
		return err
	}
	next := 1
	if len(nums) > 0 {
		next = nums[len(nums)-1] + 1
	}
	if err := os.Rename(l.path, l.backupPath(next)); err != nil {
		return oerr.Wrap(oerr.KindMetadata, err, "rotating event log")
	}
	nums = append(nums, next)

	for len(nums) > l.maxBackups {
		if err := os.Remove(l.backupPath(nums[0])); err != nil && !os.IsNotExist(err) {
			return oerr.Wrap(oerr.KindMetadata, err, "pruning event log backup")
		}
		nums = nums[1:]
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return oerr.Wrap(oerr.KindMetadata, err, "reopening event log")
	}
	l.f = f
	l.size = 0
	return nil
}

// Tail returns up to n most recent events from the current log file,
// oldest first. Backups are not consulted.
func (l *Log) Tail(n int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return readTail(l.path, n)
}

func readTail(path string, n int) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oerr.Wrap(oerr.KindMetadata, err, "opening event log")
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, oerr.Wrap(oerr.KindMetadata, err, "scanning event log")
	}

	out := make([]Event, 0, len(lines))
	for _, line := range lines {
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Torn or corrupt line; skip rather than fail the whole read.
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
