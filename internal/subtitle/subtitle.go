// Package subtitle renders transcription text as WebVTT or SubRip documents.
package subtitle

import (
	"fmt"
	"strings"
)

// Kind is a subtitle format tag.
type Kind string

const (
	VTT Kind = "vtt"
	SRT Kind = "srt"
)

// cueDuration is the length of the single placeholder cue used for text-only results.
const cueDuration = 10.0

// ParseKind maps a format query value to a Kind. Empty defaults to VTT.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vtt", "webvtt":
		return VTT, nil
	case "srt", "subrip":
		return SRT, nil
	}
	return "", fmt.Errorf("unsupported subtitle format %q", s)
}

// Segment is a timed piece of transcription text. Times are in seconds.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Document is a rendered subtitle file.
type Document struct {
	Kind Kind
	Body string
}

// FileName returns the download name for the document.
func (d Document) FileName() string {
	return "transcript." + string(d.Kind)
}

// ContentType returns the MIME type served with the document.
func (d Document) ContentType() string {
	if d.Kind == SRT {
		return "application/x-subrip; charset=utf-8"
	}
	return "text/vtt; charset=utf-8"
}

// Format renders text as a single cue spanning the first ten seconds.
func Format(text string, kind Kind) string {
	return render([]Segment{{Start: 0, End: cueDuration, Text: text}}, kind)
}

// FormatSegments renders one numbered cue per segment. With no segments it
// falls back to an empty single cue.
func FormatSegments(segments []Segment, kind Kind) string {
	if len(segments) == 0 {
		return Format("", kind)
	}
	cues := make([]Segment, len(segments))
	for i, s := range segments {
		cues[i] = Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)}
	}
	return render(cues, kind)
}

// New builds a Document from text, preferring timed segments when present.
func New(text string, segments []Segment, kind Kind) Document {
	if len(segments) > 0 {
		return Document{Kind: kind, Body: FormatSegments(segments, kind)}
	}
	return Document{Kind: kind, Body: Format(text, kind)}
}

func render(segments []Segment, kind Kind) string {
	var b strings.Builder
	sep := "."
	if kind == VTT {
		b.WriteString("WEBVTT\n\n")
	} else {
		sep = ","
	}
	for i, s := range segments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s", i+1, timestamp(s.Start, sep), timestamp(s.End, sep), s.Text)
	}
	return b.String()
}

// timestamp formats seconds as HH:MM:SS<sep>mmm.
func timestamp(seconds float64, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3600000
	ms %= 3600000
	m := ms / 60000
	ms %= 60000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}
