// Package axlog is the logging boundary of the module. Libraries accept a
// Logger and default to Nop; binaries plug in an adapter such as
// slog_adapter.
package axlog

import "sync"

type Logger interface {
	Info(s string, keyValues ...any)
	Error(s string, keyValues ...any)
	Debug(s string, keyValues ...any)
	Warn(s string, keyValues ...any)
	With(keyValues ...any) Logger
}

type nop struct{}

func (nop) Info(string, ...any)  {}
func (nop) Error(string, ...any) {}
func (nop) Debug(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (n nop) With(...any) Logger { return n }

// Nop discards everything.
func Nop() Logger {
	return nop{}
}

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Entry struct {
	Level     Level
	Message   string
	KeyValues []any
}

// Recorder keeps log entries in memory. It is safe for concurrent use.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []any
}

func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) log(level Level, msg string, keyValues []any) {
	kv := make([]any, 0, len(r.fields)+len(keyValues))
	kv = append(kv, r.fields...)
	kv = append(kv, keyValues...)

	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, Entry{Level: level, Message: msg, KeyValues: kv})
}

func (r *Recorder) Info(msg string, keyValues ...any)  { r.log(LevelInfo, msg, keyValues) }
func (r *Recorder) Error(msg string, keyValues ...any) { r.log(LevelError, msg, keyValues) }
func (r *Recorder) Debug(msg string, keyValues ...any) { r.log(LevelDebug, msg, keyValues) }
func (r *Recorder) Warn(msg string, keyValues ...any)  { r.log(LevelWarn, msg, keyValues) }

// With returns a Recorder that shares the entry log and prefixes keyValues.
func (r *Recorder) With(keyValues ...any) Logger {
	fields := append(append([]any{}, r.fields...), keyValues...)
	return &Recorder{mu: r.mu, entries: r.entries, fields: fields}
}

// Entries returns a copy of everything logged so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), (*r.entries)...)
}

// Count returns the number of entries at level.
func (r *Recorder) Count(level Level) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}
