package parser

import (
	"strings"
	"unicode/utf8"
)

// separators in priority order; the splitter falls back to a hard cut when none fits
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", " "}

// Span is a chunk of text together with its byte offset in the source
type Span struct {
	Start int
	Text  string
}

// End is the byte offset just past the span
func (s Span) End() int { return s.Start + len(s.Text) }

// Split partitions text into spans of at most size bytes where consecutive spans
// overlap by up to overlap bytes. Every byte of text is covered, spans appear in
// source order and each span is text[Start:End()].
func Split(text string, size, overlap int) []Span {
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var spans []Span
	start := 0
	for start < len(text) {
		if len(text)-start <= size {
			spans = append(spans, Span{Start: start, Text: text[start:]})
			break
		}

		end := cutPoint(text, start, size)
		spans = append(spans, Span{Start: start, Text: text[start:end]})

		next := end
		if overlap > 0 {
			next = overlapStart(text, end-overlap, end)
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// cutPoint picks the end of the span starting at start. A separator is only
// used when it leaves the span at least half full.
func cutPoint(text string, start, size int) int {
	limit := start + size
	window := text[start:limit]
	for _, sep := range separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		if end := idx + len(sep); end > size/2 {
			return start + end
		}
	}

	end := limit
	for end > start && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == start {
		// size is smaller than the rune at start
		_, w := utf8.DecodeRuneInString(text[start:])
		end = start + w
	}
	return end
}

// overlapStart moves from forward to just after the next whitespace before end,
// or to the next rune boundary when there is none.
func overlapStart(text string, from, end int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < end; i++ {
		switch text[i] {
		case ' ', '\n', '\t', '\r':
			return i + 1
		}
	}
	for from < end && !utf8.RuneStart(text[from]) {
		from++
	}
	return from
}
