package memory

import (
	"strings"
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// SplitText breaks text into chunks of at most size runes, preferring paragraph,
// line, sentence and word boundaries, with overlap runes repeated between
// consecutive chunks
func SplitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	pieces := splitRecursive(text, size, defaultSeparators)
	return mergePieces(pieces, size, overlap)
}

// splitRecursive splits text on the first separator that occurs, recursing into
// pieces still larger than size with the remaining separators
func splitRecursive(text string, size int, separators []string) []string {
	if runeLen(text) <= size {
		return []string{text}
	}

	sep := separators[len(separators)-1]
	rest := []string{}
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var parts []string
	if sep == "" {
		runes := []rune(text)
		for start := 0; start < len(runes); start += size {
			end := min(start+size, len(runes))
			parts = append(parts, string(runes[start:end]))
		}
		return parts
	}

	for i, p := range strings.Split(text, sep) {
		if i > 0 {
			p = sep + p
		}
		if p == "" {
			continue
		}
		if runeLen(p) > size && len(rest) > 0 {
			parts = append(parts, splitRecursive(p, size, rest)...)
		} else {
			parts = append(parts, p)
		}
	}
	return parts
}

// mergePieces greedily packs pieces into chunks, carrying overlap forward
func mergePieces(pieces []string, size, overlap int) []string {
	var chunks []string
	var current []string
	currentLen := 0
	fresh := false // current holds pieces not yet emitted

	flush := func() {
		chunk := strings.TrimSpace(strings.Join(current, ""))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		fresh = false
		// keep trailing pieces that fit inside the overlap budget
		for currentLen > overlap && len(current) > 0 {
			currentLen -= runeLen(current[0])
			current = current[1:]
		}
	}

	for _, p := range pieces {
		n := runeLen(p)
		if currentLen+n > size && len(current) > 0 {
			flush()
			for currentLen+n > size && len(current) > 0 {
				currentLen -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		currentLen += n
		fresh = true
	}
	if fresh {
		if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func runeLen(s string) int {
	return len([]rune(s))
}
