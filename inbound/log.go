package inbound

import "strings"

// Visibility controls whether a log entry may leave the server.
type Visibility uint8

const (
	// Public entries are returned to the HTTP caller.
	Public Visibility = iota
	// Detailed entries may contain message content and stay server side.
	Detailed
)

// Level is the severity of a log entry.
type Level uint8

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// LogEntry is a single line of the processing log.
type LogEntry struct {
	Visibility Visibility
	Level      Level
	Text       string
}

// PublicEntry returns an info entry visible to the caller.
func PublicEntry(text string) LogEntry {
	return LogEntry{Visibility: Public, Level: LevelInfo, Text: text}
}

// DetailEntry returns a server-only entry.
func DetailEntry(text string) LogEntry {
	return LogEntry{Visibility: Detailed, Level: LevelInfo, Text: text}
}

// Log accumulates entries across the pipeline. The zero value is ready to use.
type Log struct {
	entries []LogEntry
}

// Add appends entries in order.
func (l *Log) Add(entries ...LogEntry) {
	l.entries = append(l.entries, entries...)
}

// Public appends a public info entry.
func (l *Log) Public(text string) {
	l.Add(PublicEntry(text))
}

// Detail appends a server-only info entry.
func (l *Log) Detail(text string) {
	l.Add(DetailEntry(text))
}

// Merge appends all entries of other.
func (l *Log) Merge(other Log) {
	l.entries = append(l.entries, other.entries...)
}

// Entries returns a copy of all entries.
func (l Log) Entries() []LogEntry {
	return append([]LogEntry(nil), l.entries...)
}

// HasDetail reports whether any entry is server-only.
func (l Log) HasDetail() bool {
	for _, e := range l.entries {
		if e.Visibility == Detailed {
			return true
		}
	}
	return false
}

// PublicString joins the public entries. It never includes detailed entries.
func (l Log) PublicString() string {
	return l.join(func(e LogEntry) bool { return e.Visibility == Public })
}

// DetailedString joins all entries, public and server-only.
func (l Log) DetailedString() string {
	return l.join(func(LogEntry) bool { return true })
}

func (l Log) join(keep func(LogEntry) bool) string {
	var b strings.Builder
	for _, e := range l.entries {
		if !keep(e) {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Text)
	}
	return b.String()
}
