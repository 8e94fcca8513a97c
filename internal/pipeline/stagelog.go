package pipeline

import (
	"sync"
	"time"

	"github.com/imyashkale/deployer/internal/models"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"

	LogSizeLimit = 400 * 1024 // 400KB, below the DynamoDB item limit
)

// StageLog collects the per-stage log lines of one pipeline run
type StageLog struct {
	mu      sync.Mutex
	entries []models.BuildLogEntry
	now     func() time.Time
}

// NewStageLog creates an empty stage log
func NewStageLog() *StageLog {
	return &StageLog{now: time.Now}
}

func (l *StageLog) Info(stage, message string) {
	l.add(stage, LevelInfo, message)
}

func (l *StageLog) Warning(stage, message string) {
	l.add(stage, LevelWarning, message)
}

func (l *StageLog) Error(stage, message string) {
	l.add(stage, LevelError, message)
}

func (l *StageLog) add(stage, level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, models.BuildLogEntry{
		Timestamp: l.now(),
		Stage:     stage,
		Level:     level,
		Message:   message,
	})
}

// Entries returns a copy of every entry
func (l *StageLog) Entries() []models.BuildLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.BuildLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Limited returns the entries that fit in LogSizeLimit. When some are cut,
// a truncation notice is appended.
func (l *StageLog) Limited() []models.BuildLogEntry {
	entries := l.Entries()

	var total int
	var out []models.BuildLogEntry
	for _, e := range entries {
		// timestamp, stage, level and attribute overhead
		size := 135 + len(e.Message)
		if total+size > LogSizeLimit {
			out = append(out, models.BuildLogEntry{
				Timestamp: l.now(),
				Stage:     "system",
				Level:     LevelWarning,
				Message:   "Log output exceeded size limit. Later entries truncated.",
			})
			break
		}
		out = append(out, e)
		total += size
	}
	return out
}
