package research

import (
	"fmt"
	"time"
)

const (
	// MaxStoredLogEntries bounds the per-job log window kept in storage.
	MaxStoredLogEntries = 100
	// StatusLogEntries is the trimmed view returned by the status endpoint.
	StatusLogEntries = 10
)

// AppendLog appends an entry to the job's log with ring-buffer semantics:
// once MaxStoredLogEntries is reached the oldest entries are dropped.
func AppendLog(logs []LogEntry, at time.Time, level LogLevel, format string, args ...any) []LogEntry {
	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}
	logs = append(logs, LogEntry{Timestamp: at, Message: message, Level: level})
	if excess := len(logs) - MaxStoredLogEntries; excess > 0 {
		logs = append(logs[:0], logs[excess:]...)
	}
	return logs
}

// TailLogs returns the most recent n entries without mutating the input.
func TailLogs(logs []LogEntry, n int) []LogEntry {
	if n <= 0 || len(logs) == 0 {
		return nil
	}
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	out := make([]LogEntry, len(logs))
	copy(out, logs)
	return out
}
