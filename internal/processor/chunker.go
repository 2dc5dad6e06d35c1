package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultChunkSize = 1200
	DefaultMaxChunks = 32
)

// Fingerprint returns the hex SHA-256 digest of content.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Chunker splits text on paragraph boundaries into pieces of at most Size
// runes. The same input always yields the same pieces.
type Chunker struct {
	Size      int
	Overlap   int
	MaxChunks int
}

func NewChunker(size, overlap, maxChunks int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}

	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}

	return &Chunker{Size: size, Overlap: overlap, MaxChunks: maxChunks}
}

// Split returns the ordered chunks of text, or nil for blank input.
// With Overlap set, each chunk after the first starts with the last
// Overlap runes of its predecessor when that still fits within Size.
func (c *Chunker) Split(text string) []string {
	text = normalizeWhitespace(text)
	if text == "" {
		return nil
	}

	var (
		chunks  []string
		current string
	)

	fits := func(a, b string) bool {
		return utf8.RuneCountInString(a)+2+utf8.RuneCountInString(b) <= c.Size
	}

	for _, para := range strings.Split(text, "\n\n") {
		for _, piece := range c.hardSplit(para) {
			switch {
			case current == "":
				current = piece
			case fits(current, piece):
				current += "\n\n" + piece
			default:
				chunks = append(chunks, current)

				if tail := overlapTail(current, c.Overlap); tail != "" && fits(tail, piece) {
					current = tail + "\n\n" + piece
				} else {
					current = piece
				}
			}
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}

	if len(chunks) > c.MaxChunks {
		chunks = chunks[:c.MaxChunks]
	}

	return chunks
}

// Join reassembles chunks produced by Split, dropping the overlap each
// chunk repeats from its predecessor. Paragraphs cut by hardSplit come
// back separated by a blank line.
func (c *Chunker) Join(chunks []string) string {
	parts := make([]string, 0, len(chunks))

	for i, chunk := range chunks {
		if i > 0 {
			if tail := overlapTail(chunks[i-1], c.Overlap); tail != "" {
				chunk = strings.TrimPrefix(chunk, tail+"\n\n")
			}
		}

		parts = append(parts, chunk)
	}

	return strings.Join(parts, "\n\n")
}

// hardSplit breaks a paragraph longer than Size at the last whitespace
// before the limit, or at the limit itself when there is none.
func (c *Chunker) hardSplit(para string) []string {
	var out []string

	runes := []rune(para)
	for len(runes) > c.Size {
		cut := c.Size
		for i := c.Size; i > c.Size/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}

		if head := strings.TrimSpace(string(runes[:cut])); head != "" {
			out = append(out, head)
		}

		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}

	if len(runes) > 0 {
		out = append(out, string(runes))
	}

	return out
}

func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[len(runes)-n:])
}

// normalizeWhitespace unifies line endings, trims trailing spaces and
// collapses runs of blank lines so paragraph splitting is stable.
func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false

	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}

			blank = true

			continue
		}

		blank = false

		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
