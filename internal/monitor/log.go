package monitor

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/addinscan/addinscan/internal/protocol"
)

type Entry struct {
	Time  time.Time      `json:"time"`
	Event protocol.Event `json:"event"`
}

// Log is the ordered record of everything one worker wrote. It may be read
// while the monitor is still appending.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(ev protocol.Event) {
	l.append(Entry{Time: time.Now(), Event: ev})
}

func (l *Log) append(e Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

func (l *Log) Entries() []Entry {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Lines returns the decoded text of every entry in arrival order.
func (l *Log) Lines() []string {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	lines := make([]string, len(l.entries))
	for i, e := range l.entries {
		lines[i] = e.Event.Text
	}
	return lines
}

func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastMessage returns the text of the most recent entry that carries a
// diagnostic, or "" if there is none. An error that the worker sent with an
// exception gets the first line of that exception appended.
func (l *Log) LastMessage() string {
	if l == nil {
		return ""
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		ev := l.entries[i].Event
		if !ev.Diagnostic() {
			continue
		}
		if ev.Kind == protocol.KindError && i > 0 {
			if prev := l.entries[i-1].Event; prev.Kind == protocol.KindException {
				cause, _, _ := strings.Cut(strings.TrimSpace(prev.Text), "\n")
				if cause = strings.TrimSpace(cause); cause != "" && cause != ev.Text {
					return ev.Text + ": " + cause
				}
			}
		}
		return ev.Text
	}
	return ""
}

// Terminal returns the worker's terminal marker, if it wrote one.
func (l *Log) Terminal() (protocol.Event, bool) {
	if l == nil {
		return protocol.Event{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if ev := l.entries[i].Event; ev.Kind.IsTerminal() {
			return ev, true
		}
	}
	return protocol.Event{}, false
}

func (l *Log) MarshalJSON() ([]byte, error) {
	entries := l.Entries()
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(entries)
}
