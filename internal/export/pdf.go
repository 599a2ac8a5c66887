package export

import (
	"io"

	"github.com/go-pdf/fpdf"
)

// PDF writes an A4 document with the title, the header and one paragraph per
// transcript line. Text outside Windows-1252 is replaced.
func PDF(d Data, w io.Writer) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(d.Timestamp)
	pdf.SetModificationDate(d.Timestamp)
	pdf.SetTitle(d.Title, true)
	pdf.SetCreator("scribeline", true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 8, tr(d.Title), "", "L", false)
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	pdf.MultiCell(0, 5, tr(header(d)), "", "L", false)
	pdf.Ln(4)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 11)
	for _, line := range d.Lines() {
		pdf.MultiCell(0, 6, tr(line), "", "L", false)
		pdf.Ln(1)
	}
	return pdf.Output(w)
}
