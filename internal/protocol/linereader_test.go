package protocol

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, lr *LineReader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
}

func TestLineReader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "one\n", []string{"one"}},
		{"unterminated tail", "one\ntwo", []string{"one", "two"}},
		{"crlf", "one\r\ntwo\r\n", []string{"one", "two"}},
		{"blank lines", "\n\nx\n", []string{"", "", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lr := NewLineReader(strings.NewReader(tt.in), 0)
			assert.Equal(t, tt.want, readAll(t, lr))
		})
	}
}

func TestLineReaderTruncatesLongLines(t *testing.T) {
	long := strings.Repeat("x", 100)
	lr := NewLineReader(strings.NewReader(long+"\nnext\n"), 32)

	lines := readAll(t, lr)
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Repeat("x", 32)+TruncatedSuffix, lines[0])
	assert.Equal(t, "next", lines[1])
}

func TestLineReaderExactLimit(t *testing.T) {
	exact := strings.Repeat("y", 32)
	lr := NewLineReader(strings.NewReader(exact+"\n"), 32)
	assert.Equal(t, []string{exact}, readAll(t, lr))
}

func TestLineReaderSlowWriter(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		for _, part := range []string{"wor", "ker-msg:he", "llo\nsec", "ond", "\n", "tail"} {
			_, _ = pw.Write([]byte(part))
		}
		_ = pw.Close()
	}()

	lr := NewLineReader(pr, 0)
	assert.Equal(t, []string{"worker-msg:hello", "second", "tail"}, readAll(t, lr))
}

func TestLineReaderReturnsPartialLineBeforeError(t *testing.T) {
	pr, pw := io.Pipe()
	boom := errors.New("pipe broke")
	go func() {
		_, _ = pw.Write([]byte("partial"))
		_ = pw.CloseWithError(boom)
	}()

	lr := NewLineReader(pr, 0)
	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "partial", line)

	_, err = lr.ReadLine()
	assert.ErrorIs(t, err, boom)
}
