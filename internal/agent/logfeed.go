package agent

import (
	"sync"

	"github.com/agent-sterling-go/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	feedCapacity = 100
	statusLogs   = 10
)

// LogFeed is a logrus hook keeping the most recent entries for the operator
// status feed
type LogFeed struct {
	mu      sync.Mutex
	entries []models.LogEntry
	next    int
	full    bool
	levels  []logrus.Level
}

// NewLogFeed returns a feed recording info level and above
func NewLogFeed() *LogFeed {
	return &LogFeed{
		entries: make([]models.LogEntry, feedCapacity),
		levels: []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
			logrus.WarnLevel,
			logrus.InfoLevel,
		},
	}
}

func (f *LogFeed) Levels() []logrus.Level {
	return f.levels
}

func (f *LogFeed) Fire(entry *logrus.Entry) error {
	message := entry.Message
	if service, ok := entry.Data["service"].(string); ok && service != "" {
		message = "[" + service + "] " + message
	}
	if err, ok := entry.Data[logrus.ErrorKey].(error); ok {
		message += ": " + err.Error()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[f.next] = models.LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   message,
	}
	f.next = (f.next + 1) % len(f.entries)
	if f.next == 0 {
		f.full = true
	}
	return nil
}

// Recent returns up to n entries, oldest first
func (f *LogFeed) Recent(n int) []models.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := f.next
	if f.full {
		size = len(f.entries)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]models.LogEntry, 0, n)
	for i := size - n; i < size; i++ {
		idx := i
		if f.full {
			idx = (f.next + i) % len(f.entries)
		}
		out = append(out, f.entries[idx])
	}
	return out
}
