package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/addinscan/addinscan/internal/scanner"
)

// PrintJSON writes a single outcome as an object and several as an array.
func PrintJSON(w io.Writer, outcomes []*scanner.Outcome) error {
	var data []byte
	var err error

	if len(outcomes) == 1 {
		data, err = json.MarshalIndent(outcomes[0], "", "  ")
	} else {
		if outcomes == nil {
			outcomes = []*scanner.Outcome{}
		}
		data, err = json.MarshalIndent(outcomes, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	_, err = fmt.Fprintln(w, string(data))
	return err
}
