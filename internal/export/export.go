// Package export renders saved sessions as downloadable documents.
//
// Every renderer takes the same [Data]: a title, the transcript as
// newline-joined "[15:04:05] content" lines, a timestamp and a duration label.
package export

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/scribeline/internal/recorder"
	"github.com/MrWong99/scribeline/pkg/types"
)

// Format names an output format.
type Format string

const (
	FormatText Format = "txt"
	FormatPDF  Format = "pdf"
	FormatWord Format = "docx"
)

// ParseFormat accepts a format name or a common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "txt", "text":
		return FormatText, nil
	case "pdf":
		return FormatPDF, nil
	case "docx", "word":
		return FormatWord, nil
	}
	return "", fmt.Errorf("export: unknown format %q", s)
}

// ContentType is the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatWord:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension is the file extension of f without the dot.
func (f Format) Extension() string { return string(f) }

// Data is the renderer input.
type Data struct {
	Title     string
	Content   string
	Timestamp time.Time
	Duration  string
}

// Lines splits Content into its transcript lines.
func (d Data) Lines() []string {
	if d.Content == "" {
		return nil
	}
	return strings.Split(d.Content, "\n")
}

// FromSession builds export data from a saved session.
func FromSession(s *types.Session) Data {
	return Data{
		Title:     s.Title,
		Content:   transcriptLines(s.Transcript),
		Timestamp: s.StartTime,
		Duration:  s.DurationLabel,
	}
}

// FromLive builds export data from the in-progress transcript as of now.
func FromLive(state types.LiveSessionState, now time.Time) Data {
	start := now
	if state.StartedAt != nil {
		start = *state.StartedAt
	}
	return Data{
		Title:     "Live Transcript " + start.Format("2006-01-02 15:04"),
		Content:   transcriptLines(state.Items),
		Timestamp: start,
		Duration:  recorder.DurationLabel(now.Sub(start)),
	}
}

func transcriptLines(items []types.TranscriptItem) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, "["+it.CreatedAt.Format("15:04:05")+"] "+it.Content)
	}
	return strings.Join(lines, "\n")
}

// Render writes d to w in format f.
func Render(f Format, d Data, w io.Writer) error {
	switch f {
	case FormatText:
		return Text(d, w)
	case FormatPDF:
		return PDF(d, w)
	case FormatWord:
		return Word(d, w)
	}
	return fmt.Errorf("export: unknown format %q", f)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename derives a download name from the title.
func Filename(d Data, f Format) string {
	name := strings.Trim(unsafeChars.ReplaceAllString(d.Title, "_"), "_")
	if name == "" {
		name = "transcript"
	}
	return name + "." + f.Extension()
}

func header(d Data) string {
	return fmt.Sprintf("Date: %s\nDuration: %s", d.Timestamp.Format("2006-01-02 15:04"), d.Duration)
}
