package retrieval

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the maximum number of characters in one indexed document.
const DefaultChunkSize = 5000

// separators are tried in order: paragraphs, then lines, then words.
var separators = []string{"\n\n", "\n", " "}

// SplitText cuts text into chunks of at most chunkSize characters without
// overlap. It keeps paragraphs together where they fit and only breaks lines,
// then words, then characters when a piece is still too long.
func SplitText(text string, chunkSize int) []string {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return splitRecursive(text, chunkSize, separators)
}

func splitRecursive(text string, size int, seps []string) []string {
	if utf8.RuneCountInString(text) <= size {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}
	if len(seps) == 0 {
		return hardSplit(text, size)
	}

	sep := seps[0]
	sepLen := utf8.RuneCountInString(sep)

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		currentLen = 0
	}

	for _, part := range strings.Split(text, sep) {
		partLen := utf8.RuneCountInString(part)
		if partLen > size {
			flush()
			chunks = append(chunks, splitRecursive(part, size, seps[1:])...)
			continue
		}
		if currentLen > 0 && currentLen+sepLen+partLen > size {
			flush()
		}
		if currentLen > 0 {
			current.WriteString(sep)
			currentLen += sepLen
		}
		current.WriteString(part)
		currentLen += partLen
	}
	flush()

	return chunks
}

func hardSplit(text string, size int) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			chunks = append(chunks, s)
		}
	}
	return chunks
}
