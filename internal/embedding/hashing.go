package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultHashingDimensions = 384
	defaultHashingModel      = "feature-hash-v1"
)

// HashingProvider embeds text locally with signed feature hashing of
// word unigrams and bigrams. Vectors are L2-normalised so cosine
// similarity reduces to a dot product. It needs no model download and is
// deterministic across runs.
type HashingProvider struct {
	model      string
	dimensions int
}

func NewHashingProvider(model string, dimensions int) *HashingProvider {
	if dimensions <= 0 {
		dimensions = defaultHashingDimensions
	}

	if model == "" {
		model = defaultHashingModel
	}

	return &HashingProvider{model: model, dimensions: dimensions}
}

// Tokenize lowercases text and splits it on anything that is not a
// letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (p *HashingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, p.dimensions)
	tokens := Tokenize(text)

	add := func(feature string, weight float32) {
		h := xxhash.Sum64String(feature)
		idx := int(h % uint64(p.dimensions))

		if h&(1<<63) != 0 {
			weight = -weight
		}

		vector[idx] += weight
	}

	for i, tok := range tokens {
		add(tok, 1)

		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}

	return vector, nil
}

func (p *HashingProvider) GetDimensions() int {
	return p.dimensions
}

func (p *HashingProvider) IsEnabled() bool {
	return true
}

func (p *HashingProvider) GetName() string {
	return "hashing:" + p.model
}
