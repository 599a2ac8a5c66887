package export

import (
	"fmt"
	"io"
)

// Text writes a plain UTF-8 transcript.
func Text(d Data, w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s\n%s\n\n%s\n", d.Title, header(d), d.Content)
	return err
}
