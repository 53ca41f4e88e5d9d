package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		line     string
		kind     Kind
		text     string
		fraction float64
		code     int
	}{
		{line: "worker-msg:Scanning folder", kind: KindMessage, text: "Scanning folder"},
		{line: "worker-progress:0.5", kind: KindProgress, text: "0.5", fraction: 0.5},
		{line: "worker-log:two&nlines", kind: KindLog, text: "two\nlines"},
		{line: "worker-plog:checking a.dll", kind: KindProgressLog, text: "checking a.dll"},
		{line: "worker-warn:deprecated", kind: KindWarning, text: "deprecated"},
		{line: "worker-exc:stack&ntrace", kind: KindException, text: "stack\ntrace"},
		{line: "worker-error:boom", kind: KindError, text: "boom"},
		{line: "worker-cancel:", kind: KindCancel},
		{line: "worker-done:3", kind: KindDone, text: "3", code: 3},
		{line: "worker-msg:", kind: KindMessage, text: ""},
		{line: "worker-log:a:b:c", kind: KindLog, text: "a:b:c"},

		// Anything not decodable is kept verbatim as text.
		{line: "plain output", kind: KindText, text: "plain output"},
		{line: "", kind: KindText, text: ""},
		{line: "worker-shout:hello", kind: KindText, text: "worker-shout:hello"},
		{line: "worker-msg", kind: KindText, text: "worker-msg"},
		{line: "worker-progress:half", kind: KindText, text: "worker-progress:half"},
		{line: "worker-progress:NaN", kind: KindText, text: "worker-progress:NaN"},
		{line: "worker-done:", kind: KindText, text: "worker-done:"},
		{line: "Worker-msg:hi", kind: KindText, text: "Worker-msg:hi"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ev := ParseEvent(tt.line)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.text, ev.Text)
			assert.Equal(t, tt.fraction, ev.Fraction)
			assert.Equal(t, tt.code, ev.ExitCode)
			assert.Equal(t, tt.line, ev.Raw)
		})
	}
}

func TestEventFormatParses(t *testing.T) {
	events := []Event{
		Message("Looking for add-ins & stuff"),
		Progress(0.25),
		LogLine("multi\nline\r\nlog"),
		ProgressLog("p"),
		Warning("w"),
		Exception("e"),
		Error("fatal"),
		Cancel(),
		Done(1),
	}
	for _, want := range events {
		line := want.Format()
		assert.NotContains(t, line, "\n")

		got := ParseEvent(line)
		assert.Equal(t, want.Kind, got.Kind, line)
		switch want.Kind {
		case KindProgress:
			assert.Equal(t, want.Fraction, got.Fraction)
		case KindDone:
			assert.Equal(t, want.ExitCode, got.ExitCode)
		default:
			assert.Equal(t, want.Text, got.Text)
		}
	}
}

func TestTextEventFormatIsSingleLine(t *testing.T) {
	line := Event{Kind: KindText, Text: "a\nb"}.Format()
	assert.Equal(t, "a b", line)
}

func TestKindClassification(t *testing.T) {
	assert.True(t, KindMessage.IsProgressUpdate())
	assert.True(t, KindError.IsProgressUpdate())
	assert.False(t, KindProgressLog.IsProgressUpdate())
	assert.False(t, KindDone.IsProgressUpdate())
	assert.False(t, KindText.IsProgressUpdate())

	assert.True(t, KindDone.IsTerminal())
	assert.False(t, KindError.IsTerminal())

	assert.Equal(t, "plog", KindProgressLog.String())
	assert.Equal(t, "text", KindText.String())
}

func TestEventDiagnostic(t *testing.T) {
	assert.True(t, Error("boom").Diagnostic())
	assert.True(t, Event{Kind: KindText, Text: "raw"}.Diagnostic())
	assert.False(t, Progress(1).Diagnostic())
	assert.False(t, Done(0).Diagnostic())
	assert.False(t, Message("  ").Diagnostic())
}
