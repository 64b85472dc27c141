// Package chunker splits source text into overlapping passages.
package chunker

import (
	"strings"
	"unicode"
)

const (
	DefaultSize    = 800
	DefaultOverlap = 200

	// boundaryWindow is how far back from a raw cut the segmenter looks for
	// a sentence boundary.
	boundaryWindow = 100
)

// Segmenter cuts text into passages of at most Size characters. Lengths are
// counted in runes so multi-byte text is never split inside a character.
type Segmenter struct {
	Size    int
	Overlap int
}

// New returns a Segmenter, falling back to the defaults for invalid values.
func New(size, overlap int) *Segmenter {
	size, overlap = settings(size, overlap)
	return &Segmenter{Size: size, Overlap: overlap}
}

func settings(size, overlap int) (int, int) {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
		if overlap >= size {
			overlap = 0
		}
	}
	return size, overlap
}

// Segment splits text with the segmenter's settings.
func (s *Segmenter) Segment(text string) []string {
	return Segment(text, s.Size, s.Overlap)
}

// Segment splits text into ordered passages.
//
// Text no longer than size is returned whole. Longer text is walked in windows
// of size runes; each cut is pulled back to the closest '.', '!', '?' or blank
// line inside the last 100 runes of the window, provided whitespace follows it.
// Without such a boundary the window is cut mid-sentence. The next window
// starts at max(start+size-overlap, end). Whitespace-only passages are dropped.
// Invalid settings fall back the same way New does.
func Segment(text string, size, overlap int) []string {
	size, overlap = settings(size, overlap)

	runes := []rune(text)
	n := len(runes)
	if n <= size {
		return []string{text}
	}

	var passages []string
	start := 0
	for start < n {
		end := start + size
		if end < n {
			end = boundaryBefore(runes, start, end)
		} else {
			end = n
		}

		if passage := strings.TrimSpace(string(runes[start:end])); passage != "" {
			passages = append(passages, passage)
		}

		start = max(start+size-overlap, end)
	}

	return passages
}

// boundaryBefore returns the cut point for the window [start, end). It never
// moves the cut forward.
func boundaryBefore(runes []rune, start, end int) int {
	lo := max(end-boundaryWindow, start)
	for i := end - 1; i >= lo; i-- {
		if i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		switch runes[i] {
		case '.', '!', '?', '\n':
			// a lone newline only counts when it opens a blank line
			if runes[i] == '\n' && runes[i+1] != '\n' {
				continue
			}
			return i + 1
		}
	}
	return end
}
