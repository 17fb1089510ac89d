package supervisor

import "github.com/ShayCichocki/foreman/pkg/models"

// Log buffer bounds. Once a process holds more than maxLogEntries, the
// buffer is compacted to the newest compactedLogEntries.
const (
	maxLogEntries       = 1000
	compactedLogEntries = 500
)

func appendLog(logs []models.LogEntry, e models.LogEntry) []models.LogEntry {
	logs = append(logs, e)
	if len(logs) > maxLogEntries {
		kept := make([]models.LogEntry, compactedLogEntries, maxLogEntries+1)
		copy(kept, logs[len(logs)-compactedLogEntries:])
		logs = kept
	}
	return logs
}

// tail keeps the last n lines of a run's stdout as the task result.
type tail struct {
	lines []string
	max   int
}

func (t *tail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}
