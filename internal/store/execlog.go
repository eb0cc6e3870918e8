package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wealthdesk/wealthdesk/internal/plan"
)

// ExecutionEntry wraps one evaluator result in the append-only history.
type ExecutionEntry struct {
	Result     plan.Result `json:"result"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// ExecutionLog is the append-only JSONL history of evaluator runs. Entries are
// never mutated after they are written; the log is the sole record of past
// runs.
type ExecutionLog struct {
	path string
}

func NewExecutionLog(path string) (*ExecutionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create execution log dir: %w", err)
	}
	return &ExecutionLog{path: path}, nil
}

// Append records one result at the end of the log.
func (l *ExecutionLog) Append(res plan.Result) error {
	entry := ExecutionEntry{Result: res, RecordedAt: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal execution entry: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open execution log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(string(data) + "\n"); err != nil {
		return fmt.Errorf("append execution entry: %w", err)
	}
	return nil
}

// Entries reads the whole history in append order. Unparseable lines are
// skipped rather than failing the read.
func (l *ExecutionLog) Entries() ([]ExecutionEntry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read execution log: %w", err)
	}

	var entries []ExecutionEntry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry ExecutionEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// EntriesByStatus filters the history by result status.
func (l *ExecutionLog) EntriesByStatus(status string) ([]ExecutionEntry, error) {
	all, err := l.Entries()
	if err != nil {
		return nil, err
	}
	var out []ExecutionEntry
	for _, e := range all {
		if e.Result.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}
