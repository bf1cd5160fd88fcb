package keyname

import (
	"fmt"
	"strings"
)

// DefaultSequenceFormat is used when the configuration leaves
// sequence_format empty. It renders task index 2, file index 5 as
// ".002.05".
const DefaultSequenceFormat = ".%03d.%02d"

// Formatter derives destination object keys from the configured path
// prefix, the user-supplied sequence format and the file extension.
// Keys are pure functions of (taskIndex, fileIndex), so a resumed task
// re-derives the exact keys of its unconfirmed chunks and re-uploads
// overwrite the same objects.
type Formatter struct {
	PathPrefix     string
	SequenceFormat string
	Extension      string
}

// ObjectKey returns pathPrefix + sequence + extension, where sequence
// formats the two indexes through the sequence format template.
func (f Formatter) ObjectKey(taskIndex, fileIndex int) string {
	return f.PathPrefix + fmt.Sprintf(f.format(), taskIndex, fileIndex) + f.Extension
}

// Validate renders two zero indexes through the sequence format and
// rejects templates fmt cannot satisfy with exactly two integers. fmt
// reports bad verbs and argument count mismatches inside the rendered
// string rather than as an error, so the check scans for those markers.
func (f Formatter) Validate() error {
	rendered := fmt.Sprintf(f.format(), 0, 0)
	if strings.Contains(rendered, "%!") {
		return fmt.Errorf("sequence format %q does not accept two integer indexes (rendered as %q)", f.format(), rendered)
	}
	return nil
}

func (f Formatter) format() string {
	if f.SequenceFormat == "" {
		return DefaultSequenceFormat
	}
	return f.SequenceFormat
}
