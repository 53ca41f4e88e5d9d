package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DefaultMaxLineLength bounds a single protocol line. Longer lines are cut
// and marked with TruncatedSuffix.
const DefaultMaxLineLength = 1 << 20

const TruncatedSuffix = " [truncated]"

// LineReader splits a byte stream into lines. It accepts both "\n" and "\r\n"
// terminators and returns a final unterminated line before io.EOF.
type LineReader struct {
	br  *bufio.Reader
	max int
}

func NewLineReader(r io.Reader, maxLen int) *LineReader {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}
	size := maxLen
	if size > 64*1024 {
		size = 64 * 1024
	}
	return &LineReader{br: bufio.NewReaderSize(r, size), max: maxLen}
}

// ReadLine returns the next line without its terminator. It returns io.EOF
// only once every complete or partial line has been returned.
func (lr *LineReader) ReadLine() (string, error) {
	var (
		sb        strings.Builder
		truncated bool
	)
	for {
		chunk, err := lr.br.ReadSlice('\n')
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		if room := lr.max - sb.Len(); len(chunk) > room {
			sb.Write(chunk[:max(room, 0)])
			truncated = true
		} else {
			sb.Write(chunk)
		}
		switch {
		case err == nil:
			return lr.finish(sb.String(), truncated), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if sb.Len() == 0 && !truncated {
				return "", io.EOF
			}
			return lr.finish(sb.String(), truncated), nil
		default:
			if sb.Len() > 0 {
				return lr.finish(sb.String(), truncated), nil
			}
			return "", err
		}
	}
}

func (lr *LineReader) finish(line string, truncated bool) string {
	line = strings.TrimSuffix(line, "\r")
	if truncated {
		line += TruncatedSuffix
	}
	return line
}
