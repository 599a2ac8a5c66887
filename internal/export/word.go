package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/gomutex/godocx"
)

// Word writes a .docx document: the title as a heading, the header in a
// paragraph per line and one paragraph per transcript line.
func Word(d Data, w io.Writer) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return fmt.Errorf("export: new docx: %w", err)
	}
	if _, err := doc.AddHeading(d.Title, 0); err != nil {
		return fmt.Errorf("export: docx heading: %w", err)
	}
	for _, line := range strings.Split(header(d), "\n") {
		doc.AddParagraph("").AddText(line).Italic(true)
	}
	doc.AddParagraph("")
	for _, line := range d.Lines() {
		doc.AddParagraph(line)
	}
	if err := doc.Write(w); err != nil {
		return fmt.Errorf("export: write docx: %w", err)
	}
	return nil
}
