package srt

import (
	"fmt"
	"strings"
)

// Word is a single spoken word with its timing from the inference engine.
type Word struct {
	Text  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one engine-level transcription segment. Words may be empty
// when the engine produced no word-level timing for it.
type Segment struct {
	Text  string `json:"text"`
	Words []Word `json:"words,omitempty"`
}

// Cue is one subtitle display block.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// Cues groups segment words into subtitle cues of at most wordsPerLine
// words each. Grouping never crosses a segment boundary; a trailing group
// shorter than wordsPerLine is still emitted. Segments without word timing
// contribute nothing. Indices run 1..K across the whole output.
func Cues(segments []Segment, wordsPerLine int) []Cue {
	var cues []Cue
	index := 1

	for _, seg := range segments {
		words := seg.Words
		for i := 0; i < len(words); i += wordsPerLine {
			end := i + wordsPerLine
			if end > len(words) {
				end = len(words)
			}
			group := words[i:end]

			texts := make([]string, 0, len(group))
			for _, w := range group {
				texts = append(texts, strings.TrimSpace(w.Text))
			}

			cues = append(cues, Cue{
				Index: index,
				Start: group[0].Start,
				End:   group[len(group)-1].End,
				Text:  strings.Join(texts, " "),
			})
			index++
		}
	}

	return cues
}

// Timestamp renders seconds as the SubRip timecode HH:MM:SS,mmm.
// Sub-millisecond precision is truncated, never rounded, and hours are
// unbounded so multi-day inputs stay representable.
func Timestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds * 1000)

	hours := totalMillis / 3600000
	minutes := (totalMillis % 3600000) / 60000
	secs := (totalMillis % 60000) / 1000
	millis := totalMillis % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// Render serializes cues as SubRip text: index, timecode range, text,
// blank separator.
func Render(cues []Cue) string {
	var b strings.Builder
	for _, cue := range cues {
		fmt.Fprintf(&b, "%d\n", cue.Index)
		fmt.Fprintf(&b, "%s --> %s\n", Timestamp(cue.Start), Timestamp(cue.End))
		b.WriteString(cue.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Generate is the full segmenter pipeline: words in, SubRip text and cue
// count out.
func Generate(segments []Segment, wordsPerLine int) (string, int) {
	cues := Cues(segments, wordsPerLine)
	return Render(cues), len(cues)
}
