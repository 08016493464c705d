package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/agentorch/ao/internal/oerr"
)

// Outcome is one finished session's record.
type Outcome struct {
	SessionID       string    `json:"sessionId"`
	ProjectID       string    `json:"projectId"`
	IssueID         string    `json:"issueId,omitempty"`
	FinalStatus     string    `json:"finalStatus"`
	SpawnedAt       time.Time `json:"spawnedAt"`
	EndedAt         time.Time `json:"endedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	Transitions     int       `json:"transitions"`
}

// OutcomeLog appends one JSON line per finished session. Unlike the
// event log it is small and unbounded: one line per task is the whole
// point of keeping it.
type OutcomeLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenOutcomeLog opens (or creates) the outcome log at path.
func OpenOutcomeLog(path string) (*OutcomeLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, oerr.Wrap(oerr.KindMetadata, err, "opening outcome log")
	}
	return &OutcomeLog{f: f}, nil
}

// Record appends one outcome, computing the duration from its
// timestamps.
func (l *OutcomeLog) Record(o Outcome) error {
	if o.DurationSeconds == 0 && !o.SpawnedAt.IsZero() && !o.EndedAt.IsZero() {
		o.DurationSeconds = o.EndedAt.Sub(o.SpawnedAt).Seconds()
	}
	line, err := json.Marshal(o)
	if err != nil {
		return oerr.Wrap(oerr.KindMetadata, err, "encoding outcome")
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(line); err != nil {
		return oerr.Wrap(oerr.KindMetadata, err, "appending outcome")
	}
	return nil
}

// Close closes the log file.
func (l *OutcomeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
