package processor

import (
	"fmt"
	"sort"
	"strings"
)

// Source names the repository field a chunk was cut from.
type Source string

const (
	SourceReadme      Source = "readme"
	SourceDescription Source = "description"
	SourceTopics      Source = "topics"
	SourceAbout       Source = "about"
)

// Sources lists every embeddable field in reconciliation order.
var Sources = []Source{SourceReadme, SourceDescription, SourceTopics, SourceAbout}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}

	return false
}

// Chunk is one ordered, fingerprinted slice of a source field.
type Chunk struct {
	Source  Source `json:"source"`
	Index   int    `json:"chunk_index"`
	Content string `json:"content"`
	Hash    string `json:"content_hash"`
}

// Fields carries the raw text a repository contributes to the embedding
// index.
type Fields struct {
	Readme      string
	ReadmeName  string // file name as reported by the source, used to detect HTML
	Description string
	Topics      []string
	Homepage    string
	Language    string
	License     string
}

// Service turns repository text into per-source chunk lists.
type Service struct {
	chunker *Chunker
}

func NewService(chunker *Chunker) *Service {
	return &Service{chunker: chunker}
}

// SourceText renders the text of one source. Readme content is
// normalised to markdown first.
func (s *Service) SourceText(source Source, f Fields) (string, error) {
	switch source {
	case SourceReadme:
		return NormalizeReadme(f.ReadmeName, f.Readme)
	case SourceDescription:
		return strings.TrimSpace(f.Description), nil
	case SourceTopics:
		return TopicsText(f.Topics), nil
	case SourceAbout:
		return AboutText(f.Homepage, f.Language, f.License), nil
	default:
		return "", fmt.Errorf("unknown source %q", source)
	}
}

// Prepare chunks and fingerprints every source. Sources with no text map
// to an empty slice so callers can remove previously stored chunks.
func (s *Service) Prepare(f Fields) (map[Source][]Chunk, error) {
	out := make(map[Source][]Chunk, len(Sources))

	for _, source := range Sources {
		text, err := s.SourceText(source, f)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", source, err)
		}

		out[source] = s.ChunkSource(source, text)
	}

	return out, nil
}

// ChunkSource splits text and fingerprints each piece.
func (s *Service) ChunkSource(source Source, text string) []Chunk {
	pieces := s.chunker.Split(text)
	chunks := make([]Chunk, len(pieces))

	for i, piece := range pieces {
		chunks[i] = Chunk{
			Source:  source,
			Index:   i,
			Content: piece,
			Hash:    Fingerprint(piece),
		}
	}

	return chunks
}

// JoinSource rebuilds source text from its stored chunk contents.
func (s *Service) JoinSource(contents []string) string {
	return s.chunker.Join(contents)
}

// TopicsText joins topics into one line; order is preserved since it is
// part of the repository's data.
func TopicsText(topics []string) string {
	cleaned := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}

	return strings.Join(cleaned, " ")
}

// AboutText renders sidebar metadata as "key: value" lines.
func AboutText(homepage, language, license string) string {
	parts := map[string]string{
		"homepage": strings.TrimSpace(homepage),
		"language": strings.TrimSpace(language),
		"license":  strings.TrimSpace(license),
	}

	keys := make([]string, 0, len(parts))
	for k, v := range parts {
		if v != "" {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + ": " + parts[k]
	}

	return strings.Join(lines, "\n")
}

// Plan compares freshly computed chunks against the stored fingerprints
// (chunk index to hash) and returns the chunks that need an embedding.
// orphans counts stored indices at or beyond len(chunks).
func Plan(chunks []Chunk, stored map[int]string) (changed []Chunk, orphans int) {
	for _, c := range chunks {
		if hash, ok := stored[c.Index]; !ok || hash != c.Hash {
			changed = append(changed, c)
		}
	}

	for idx := range stored {
		if idx >= len(chunks) {
			orphans++
		}
	}

	return changed, orphans
}
