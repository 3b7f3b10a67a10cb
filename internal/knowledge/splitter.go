package knowledge

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text into chunks of at most Size characters, preferring
// paragraph, then line, then word boundaries, and repeating up to Overlap
// characters of the previous chunk at the start of the next.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// Split returns the chunks of text.
func (s Splitter) Split(text string) []string {
	if s.Size <= 0 {
		s.Size = DefaultChunkSize
	}
	if s.Overlap < 0 || s.Overlap >= s.Size {
		s.Overlap = 0
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = defaultSeparators
	}
	return s.split(text, seps)
}

func (s Splitter) split(text string, seps []string) []string {
	sep, rest := seps[len(seps)-1], []string(nil)
	for i, c := range seps {
		if c == "" || strings.Contains(text, c) {
			sep, rest = c, seps[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range strings.Split(text, sep) {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		if length(piece) < s.Size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, s.merge(small, sep)...)
			small = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(small) > 0 {
		out = append(out, s.merge(small, sep)...)
	}
	return out
}

// merge joins pieces with sep into chunks no longer than Size, carrying the
// trailing pieces of each chunk into the next one up to Overlap.
func (s Splitter) merge(pieces []string, sep string) []string {
	sepLen := length(sep)
	var chunks, cur []string
	total := 0

	joined := func(extra int) int {
		if len(cur) > 0 {
			return total + extra + sepLen
		}
		return total + extra
	}

	for _, p := range pieces {
		n := length(p)
		if joined(n) > s.Size && len(cur) > 0 {
			if c := strings.TrimSpace(strings.Join(cur, sep)); c != "" {
				chunks = append(chunks, c)
			}
			for total > s.Overlap || (joined(n) > s.Size && total > 0) {
				total -= length(cur[0])
				if len(cur) > 1 {
					total -= sepLen
				}
				cur = cur[1:]
			}
		}
		total = joined(n)
		cur = append(cur, p)
	}
	if c := strings.TrimSpace(strings.Join(cur, sep)); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

func length(s string) int { return utf8.RuneCountInString(s) }
