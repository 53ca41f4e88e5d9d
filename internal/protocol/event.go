package protocol

import (
	"math"
	"strconv"
	"strings"
)

// Kind classifies a worker output line.
type Kind int

const (
	// KindText is an unmarked line, forwarded verbatim as log text.
	KindText Kind = iota
	KindMessage
	KindProgress
	KindLog
	// KindProgressLog is retained in the log but not forwarded to the status.
	KindProgressLog
	KindWarning
	// KindException carries the detail of the error reported on the next
	// KindError line.
	KindException
	KindError
	KindCancel
	// KindDone is the terminal marker written just before the worker exits.
	KindDone
)

const linePrefix = "worker-"

var kindTags = map[Kind]string{
	KindMessage:     "msg",
	KindProgress:    "progress",
	KindLog:         "log",
	KindProgressLog: "plog",
	KindWarning:     "warn",
	KindException:   "exc",
	KindError:       "error",
	KindCancel:      "cancel",
	KindDone:        "done",
}

var tagKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindTags))
	for k, tag := range kindTags {
		m[tag] = k
	}
	return m
}()

func (k Kind) String() string {
	if k == KindText {
		return "text"
	}
	if tag, ok := kindTags[k]; ok {
		return tag
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsProgressUpdate reports whether events of this kind are forwarded to a
// progress status.
func (k Kind) IsProgressUpdate() bool {
	switch k {
	case KindMessage, KindProgress, KindLog, KindWarning, KindException, KindError, KindCancel:
		return true
	}
	return false
}

func (k Kind) IsTerminal() bool {
	return k == KindDone
}

// Event is one decoded line of worker output.
type Event struct {
	Kind     Kind    `json:"kind"`
	Text     string  `json:"text,omitempty"`
	Fraction float64 `json:"fraction,omitempty"`
	ExitCode int     `json:"exit_code,omitempty"`
	// Raw is the line as it was read.
	Raw string `json:"-"`
}

// Diagnostic reports whether the event carries human readable text worth
// surfacing as a failure message.
func (e Event) Diagnostic() bool {
	switch e.Kind {
	case KindProgress, KindCancel, KindDone:
		return false
	}
	return strings.TrimSpace(e.Text) != ""
}

func Message(text string) Event { return Event{Kind: KindMessage, Text: text} }
func Progress(f float64) Event { return Event{Kind: KindProgress, Fraction: f} }
func LogLine(text string) Event { return Event{Kind: KindLog, Text: text} }
func ProgressLog(text string) Event { return Event{Kind: KindProgressLog, Text: text} }
func Warning(text string) Event { return Event{Kind: KindWarning, Text: text} }
func Exception(text string) Event { return Event{Kind: KindException, Text: text} }
func Error(text string) Event { return Event{Kind: KindError, Text: text} }
func Cancel() Event { return Event{Kind: KindCancel} }
func Done(code int) Event { return Event{Kind: KindDone, ExitCode: code} }

// Format renders e as a single protocol line without the trailing newline.
func (e Event) Format() string {
	tag, ok := kindTags[e.Kind]
	if !ok {
		return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(e.Text)
	}
	var body string
	switch e.Kind {
	case KindProgress:
		body = strconv.FormatFloat(e.Fraction, 'f', -1, 64)
	case KindDone:
		body = strconv.Itoa(e.ExitCode)
	case KindCancel:
	default:
		body = Escape(e.Text)
	}
	return linePrefix + tag + ":" + body
}

// ParseEvent decodes one line. Lines without a recognized marker, and marked
// lines whose body cannot be decoded, come back as KindText with the line as
// their text.
func ParseEvent(line string) Event {
	plain := Event{Kind: KindText, Text: line, Raw: line}

	rest, ok := strings.CutPrefix(line, linePrefix)
	if !ok {
		return plain
	}
	tag, body, ok := strings.Cut(rest, ":")
	if !ok {
		return plain
	}
	kind, ok := tagKinds[tag]
	if !ok {
		return plain
	}

	ev := Event{Kind: kind, Raw: line}
	switch kind {
	case KindProgress:
		f, err := strconv.ParseFloat(strings.TrimSpace(body), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return plain
		}
		ev.Fraction = f
		ev.Text = body
	case KindDone:
		code, err := strconv.Atoi(strings.TrimSpace(body))
		if err != nil {
			return plain
		}
		ev.ExitCode = code
		ev.Text = body
	case KindCancel:
	default:
		ev.Text = Unescape(body)
	}
	return ev
}
