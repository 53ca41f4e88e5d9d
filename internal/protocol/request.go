// Package protocol implements the line protocol spoken between the host and a
// scan worker process.
//
// The host writes a Request to the worker's standard input, one field per
// line, and closes the stream. The worker answers on standard output with
// event lines (see Event) and finally exits; its exit code is the only other
// signal that crosses the process boundary.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type Command string

const (
	CommandScan           Command = "scan"
	CommandPreScan        Command = "pre-scan"
	CommandGetDescription Command = "get-desc"
)

func (c Command) Valid() bool {
	switch c {
	case CommandScan, CommandPreScan, CommandGetDescription:
		return true
	}
	return false
}

func ParseCommand(s string) (Command, error) {
	c := Command(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return c, nil
}

var (
	ErrUnknownCommand   = errors.New("unknown worker command")
	ErrTruncatedRequest = errors.New("truncated worker request")
	ErrInvalidPayload   = errors.New("invalid request payload")
)

// headerLines is the number of fixed lines that precede the payload.
const headerLines = 7

// Request is the unit of work sent to a worker. The four location fields
// identify the registry instance the worker opens; Payload is consumed
// positionally and its meaning depends on Command.
type Request struct {
	Verbosity    int
	Command      Command
	PrimaryArg   string
	RegistryPath string
	StartupDir   string
	AddinsDir    string
	DatabaseDir  string
	Payload      []string
}

// Lines returns the request in wire order, already escaped.
func (r *Request) Lines() []string {
	lines := make([]string, 0, headerLines+len(r.Payload))
	lines = append(lines,
		strconv.Itoa(r.Verbosity),
		Escape(r.RegistryPath),
		Escape(r.StartupDir),
		Escape(r.AddinsDir),
		Escape(r.DatabaseDir),
		Escape(string(r.Command)),
		Escape(r.PrimaryArg),
	)
	for _, p := range r.Payload {
		lines = append(lines, Escape(p))
	}
	return lines
}

// Encode writes the request to w. The caller signals the end of the request
// by closing w.
func (r *Request) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, line := range r.Lines() {
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Validate checks the command and the fixed payload shapes. The scan payload
// is checked when it is decoded into scan options.
func (r *Request) Validate() error {
	if !r.Command.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, r.Command)
	}
	switch r.Command {
	case CommandPreScan:
		if len(r.Payload) != 1 {
			return fmt.Errorf("%w: pre-scan expects 1 line, got %d", ErrInvalidPayload, len(r.Payload))
		}
		if _, err := ParseBool(r.Payload[0]); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	case CommandGetDescription:
		if len(r.Payload) != 1 {
			return fmt.Errorf("%w: get-desc expects 1 line, got %d", ErrInvalidPayload, len(r.Payload))
		}
	}
	return nil
}

// DecodeRequest reads a request from r until EOF. An empty primary argument
// decodes to the empty string, which means "unspecified".
func DecodeRequest(r io.Reader) (*Request, error) {
	lr := NewLineReader(r, DefaultMaxLineLength)

	header := make([]string, 0, headerLines)
	for len(header) < headerLines {
		line, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: got %d of %d header lines", ErrTruncatedRequest, len(header), headerLines)
		}
		if err != nil {
			return nil, fmt.Errorf("read request header: %w", err)
		}
		header = append(header, line)
	}

	verbosity, err := strconv.Atoi(strings.TrimSpace(header[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid verbosity %q: %w", header[0], err)
	}

	req := &Request{
		Verbosity:    verbosity,
		RegistryPath: Unescape(header[1]),
		StartupDir:   Unescape(header[2]),
		AddinsDir:    Unescape(header[3]),
		DatabaseDir:  Unescape(header[4]),
		Command:      Command(Unescape(header[5])),
		PrimaryArg:   Unescape(header[6]),
	}

	for {
		line, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read request payload: %w", err)
		}
		req.Payload = append(req.Payload, Unescape(line))
	}
	return req, nil
}

// FormatBool renders booleans the way payload lines carry them.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
