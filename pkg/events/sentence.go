package events

import (
	"strings"
	"unicode"
)

// minSentenceLen guards against cutting fragments: anything shorter stays in
// the buffer until more text arrives.
const minSentenceLen = 10

// abbreviations whose trailing period is not a sentence boundary.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"e.g": true, "i.e": true, "inc": true, "ltd": true, "no": true,
	"fig": true, "al": true, "approx": true,
}

// SentenceDetector incrementally cuts complete sentences out of a stream of
// text deltas. Detection is deliberately conservative: a boundary is a run
// of .!? followed by whitespace and a capital letter, and several
// false-positive patterns (abbreviations, decimals, numbered list markers,
// single-letter initials) are suppressed. Undecided text stays buffered.
type SentenceDetector struct {
	buf []rune
}

// Feed appends a delta and returns any sentences completed by it.
func (d *SentenceDetector) Feed(delta string) []string {
	d.buf = append(d.buf, []rune(delta)...)

	var sentences []string
	start := 0
	for i := 0; i < len(d.buf); i++ {
		// a paragraph break is always a boundary, capital or not
		if d.buf[i] == '\n' && i+1 < len(d.buf) && d.buf[i+1] == '\n' {
			if candidate := strings.TrimSpace(string(d.buf[start:i])); candidate != "" {
				sentences = append(sentences, candidate)
			}
			next := i
			for next < len(d.buf) && (d.buf[next] == '\n' || d.buf[next] == ' ' || d.buf[next] == '\t') {
				next++
			}
			start = next
			i = next - 1
			continue
		}
		if !isTerminator(d.buf[i]) {
			continue
		}
		end := i
		for end+1 < len(d.buf) && isTerminator(d.buf[end+1]) {
			end++
		}
		// need whitespace then a capital after the run to call it a boundary
		if end+1 >= len(d.buf) || (d.buf[end+1] != ' ' && d.buf[end+1] != '\t' && d.buf[end+1] != '\n') {
			i = end
			continue
		}
		next := end + 1
		for next < len(d.buf) && (d.buf[next] == ' ' || d.buf[next] == '\t' || d.buf[next] == '\n') {
			next++
		}
		if next >= len(d.buf) {
			// stream may still be mid-whitespace; wait for the next delta
			i = end
			continue
		}
		if !unicode.IsUpper(d.buf[next]) {
			i = end
			continue
		}

		candidate := strings.TrimSpace(string(d.buf[start : end+1]))
		if d.suppressed(candidate, start, i) {
			i = end
			continue
		}

		sentences = append(sentences, candidate)
		start = next
		i = next - 1
	}

	if start > 0 {
		d.buf = d.buf[start:]
	}
	return sentences
}

// Flush returns whatever is left in the buffer and resets the detector.
func (d *SentenceDetector) Flush() string {
	rest := strings.TrimSpace(string(d.buf))
	d.buf = nil
	return rest
}

// suppressed reports whether the boundary at bufPos (index of the first
// terminator) is a known false positive. candidate is the trimmed would-be
// sentence.
func (d *SentenceDetector) suppressed(candidate string, start, bufPos int) bool {
	if len(candidate) < minSentenceLen {
		return true
	}
	if d.buf[bufPos] != '.' {
		return false // ! and ? have no abbreviation forms
	}

	// word immediately before the period
	wordEnd := bufPos
	wordStart := wordEnd - 1
	for wordStart >= start && d.buf[wordStart] != ' ' && d.buf[wordStart] != '\t' && d.buf[wordStart] != '\n' {
		wordStart--
	}
	word := strings.ToLower(string(d.buf[wordStart+1 : wordEnd]))

	if abbreviations[word] {
		return true
	}
	// single-letter initial: "A. Turing"
	if len(word) == 1 && unicode.IsLetter(rune(word[0])) {
		return true
	}
	// numbered list marker: "1."
	if isAllDigits(word) {
		return true
	}
	// decimal split across a delta boundary: "3." awaiting "14"
	if bufPos > start && unicode.IsDigit(d.buf[bufPos-1]) && bufPos+1 < len(d.buf) && unicode.IsDigit(d.buf[bufPos+1]) {
		return true
	}
	return false
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
