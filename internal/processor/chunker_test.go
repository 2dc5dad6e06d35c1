package processor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	// sha256("hello world")
	assert.Equal(t,
		"b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		Fingerprint("hello world"))
	assert.Equal(t, Fingerprint("a"), Fingerprint("a"))
	assert.NotEqual(t, Fingerprint("a"), Fingerprint("b"))
	assert.Len(t, Fingerprint(""), 64)
}

func TestChunkerBlankInput(t *testing.T) {
	c := NewChunker(100, 0, 10)
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split(" \n\n \t\r\n"))
}

func TestChunkerSmallTextIsOneChunk(t *testing.T) {
	c := NewChunker(100, 0, 10)
	assert.Equal(t, []string{"hello world"}, c.Split("hello world"))
}

func TestChunkerPacksParagraphs(t *testing.T) {
	c := NewChunker(20, 0, 10)
	text := "aaaa bbbb\n\ncccc\n\n\n\ndddddddddd eeeeeeeee"

	chunks := c.Split(text)

	require.Equal(t, []string{"aaaa bbbb\n\ncccc", "dddddddddd eeeeeeeee"}, chunks)
}

func TestChunkerHardSplitsLongParagraphs(t *testing.T) {
	c := NewChunker(10, 0, 100)
	text := strings.Repeat("word ", 30)

	chunks := c.Split(text)

	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 10)
		assert.Equal(t, strings.TrimSpace(chunk), chunk)
	}

	assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")))
}

func TestChunkerHandlesMultibyteRunes(t *testing.T) {
	c := NewChunker(5, 0, 100)
	chunks := c.Split(strings.Repeat("日本語", 4))

	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk))
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 5)
	}
}

func TestChunkerIsStable(t *testing.T) {
	c := NewChunker(50, 10, 100)
	text := strings.Repeat("Some paragraph with words.\n\n", 20)

	first := c.Split(text)
	second := c.Split(strings.ReplaceAll(text, "\n", "\r\n"))

	assert.Equal(t, first, second)
}

func TestChunkerOverlap(t *testing.T) {
	c := NewChunker(30, 5, 100)

	chunks := c.Split("first paragraph here\n\nsecond paragraph")

	require.Len(t, chunks, 2)
	assert.Equal(t, "first paragraph here", chunks[0])
	assert.Equal(t, " here\n\nsecond paragraph", chunks[1])
}

func TestChunkerJoinDropsOverlap(t *testing.T) {
	c := NewChunker(30, 5, 100)
	text := "first paragraph here\n\nsecond paragraph\n\nthird one"

	chunks := c.Split(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, "graph\n\nthird one", chunks[2])

	assert.Equal(t, text, c.Join(chunks))
	assert.Equal(t, text, NewChunker(30, 0, 100).Join(NewChunker(30, 0, 100).Split(text)))
	assert.Empty(t, c.Join(nil))
}

func TestChunkerMaxChunks(t *testing.T) {
	c := NewChunker(10, 0, 3)
	chunks := c.Split(strings.Repeat("abcdefghij\n\n", 10))
	assert.Len(t, chunks, 3)
}

func TestNewChunkerDefaults(t *testing.T) {
	c := NewChunker(0, -1, 0)
	assert.Equal(t, DefaultChunkSize, c.Size)
	assert.Equal(t, 0, c.Overlap)
	assert.Equal(t, DefaultMaxChunks, c.MaxChunks)

	c = NewChunker(10, 10, 1)
	assert.Equal(t, 0, c.Overlap)
}
