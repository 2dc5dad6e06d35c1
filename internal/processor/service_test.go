package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceValid(t *testing.T) {
	for _, s := range Sources {
		assert.True(t, s.Valid(), s)
	}

	assert.False(t, Source("code").Valid())
}

func TestPrepare(t *testing.T) {
	svc := NewService(NewChunker(1000, 0, 10))

	chunks, err := svc.Prepare(Fields{
		Readme:      "hello world",
		Description: "  x  ",
		Topics:      []string{"go", " ", "cli"},
		Language:    "Go",
		License:     "MIT",
	})
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	require.Len(t, chunks[SourceReadme], 1)
	assert.Equal(t, "hello world", chunks[SourceReadme][0].Content)
	assert.Equal(t, Fingerprint("hello world"), chunks[SourceReadme][0].Hash)
	assert.Equal(t, SourceReadme, chunks[SourceReadme][0].Source)

	assert.Equal(t, "x", chunks[SourceDescription][0].Content)
	assert.Equal(t, "go cli", chunks[SourceTopics][0].Content)
	assert.Equal(t, "language: Go\nlicense: MIT", chunks[SourceAbout][0].Content)
}

func TestPrepareEmptySources(t *testing.T) {
	svc := NewService(NewChunker(1000, 0, 10))

	chunks, err := svc.Prepare(Fields{Description: "only this"})
	require.NoError(t, err)

	assert.Empty(t, chunks[SourceReadme])
	assert.Empty(t, chunks[SourceTopics])
	assert.Empty(t, chunks[SourceAbout])
	assert.Len(t, chunks[SourceDescription], 1)
}

func TestChunkSourceIndexes(t *testing.T) {
	svc := NewService(NewChunker(10, 0, 10))

	chunks := svc.ChunkSource(SourceReadme, "aaaaaaaaaa\n\nbbbbbbbbbb\n\ncccccccccc")
	require.Len(t, chunks, 3)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, Fingerprint(c.Content), c.Hash)
	}
}

func TestPlan(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Hash: "h0"},
		{Index: 1, Hash: "h1-new"},
		{Index: 2, Hash: "h2"},
	}

	tests := []struct {
		name        string
		stored      map[int]string
		wantChanged []int
		wantOrphans int
	}{
		{name: "nothing stored", stored: nil, wantChanged: []int{0, 1, 2}},
		{
			name:        "one changed",
			stored:      map[int]string{0: "h0", 1: "h1", 2: "h2"},
			wantChanged: []int{1},
		},
		{
			name:        "shrunk source",
			stored:      map[int]string{0: "h0", 1: "h1-new", 2: "h2", 3: "h3", 4: "h4"},
			wantOrphans: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, orphans := Plan(chunks, tt.stored)

			var idx []int
			for _, c := range changed {
				idx = append(idx, c.Index)
			}

			assert.Equal(t, tt.wantChanged, idx)
			assert.Equal(t, tt.wantOrphans, orphans)
		})
	}
}

func TestAboutText(t *testing.T) {
	assert.Equal(t, "", AboutText("", " ", ""))
	assert.Equal(t,
		"homepage: https://example.com\nlanguage: Rust",
		AboutText("https://example.com", "Rust", ""))
}

func TestNormalizeReadme(t *testing.T) {
	md := "# Title\n\n<p align=\"center\">logo</p>\n\nBody"
	out, err := NormalizeReadme("README.md", md)
	require.NoError(t, err)
	assert.Equal(t, md, out)

	out, err = NormalizeReadme("README.html", "<h1>Title</h1><p>Body text</p>")
	require.NoError(t, err)
	assert.Contains(t, out, "# Title")
	assert.Contains(t, out, "Body text")
	assert.NotContains(t, out, "<p>")

	out, err = NormalizeReadme("README", "<!DOCTYPE html><html><body><p>Hi</p></body></html>")
	require.NoError(t, err)
	assert.Contains(t, out, "Hi")
	assert.NotContains(t, out, "<body>")

	out, err = NormalizeReadme("README.md", "   ")
	require.NoError(t, err)
	assert.Empty(t, out)
}
