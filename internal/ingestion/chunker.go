package ingestion

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/internal/tokenizer"
	"github.com/medical-control-plane/backend/pkg/apperr"
)

// Options sizes are in tokens.
type Options struct {
	ChunkSize         int  `json:"chunk_size"`
	Overlap           int  `json:"overlap"`
	RespectBoundaries bool `json:"respect_boundaries"`
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:         512,
		Overlap:           50,
		RespectBoundaries: true,
	}
}

func (o Options) validate() error {
	if o.ChunkSize <= 0 {
		return apperr.New(apperr.KindInvalidArgument, "chunker", "chunk size must be positive, got %d", o.ChunkSize)
	}
	if o.Overlap < 0 {
		return apperr.New(apperr.KindInvalidArgument, "chunker", "overlap must not be negative, got %d", o.Overlap)
	}
	return nil
}

type Chunker struct {
	tokenizer tokenizer.Tokenizer
	defaults  Options
}

func NewChunker(tok tokenizer.Tokenizer, defaults Options) *Chunker {
	return &Chunker{
		tokenizer: tok,
		defaults:  defaults,
	}
}

type sentence struct {
	text   string
	tokens int
}

// accumulator is the state threaded through the sentence fold.
type accumulator struct {
	chunks []string
	buffer []sentence
	tokens int
}

// Chunk splits content into overlapping, sentence-aligned chunks. A nil
// opts uses the chunker's defaults.
func (c *Chunker) Chunk(content string, source models.MedicalSource, opts *Options) ([]models.DocumentChunk, error) {
	options := c.defaults
	if opts != nil {
		options = *opts
	}
	if err := options.validate(); err != nil {
		return nil, err
	}

	texts := splitSentences(content)
	if len(texts) == 0 {
		return nil, nil
	}

	sentences := make([]sentence, len(texts))
	for i, text := range texts {
		sentences[i] = sentence{text: text, tokens: c.tokenizer.Count(text)}
	}

	step := c.step(options)
	var acc accumulator
	for _, s := range sentences {
		acc = step(acc, s)
	}
	acc = acc.flush(0)

	return c.assemble(acc.chunks, source), nil
}

// step returns the fold function for one chunking pass.
func (c *Chunker) step(options Options) func(accumulator, sentence) accumulator {
	overlap := 0
	if options.RespectBoundaries {
		overlap = options.Overlap
	}

	return func(acc accumulator, s sentence) accumulator {
		if s.tokens > options.ChunkSize {
			acc = acc.flush(0)
			acc.chunks = append(acc.chunks, c.tokenizer.Windows(s.text, options.ChunkSize)...)
			return acc
		}

		if acc.tokens+s.tokens > options.ChunkSize && len(acc.buffer) > 0 {
			acc = acc.flush(overlap)
			for len(acc.buffer) > 0 && acc.tokens+s.tokens > options.ChunkSize {
				acc.tokens -= acc.buffer[0].tokens
				acc.buffer = acc.buffer[1:]
			}
		}

		acc.buffer = append(acc.buffer, s)
		acc.tokens += s.tokens
		return acc
	}
}

// flush emits the buffer as a chunk and seeds the next buffer with the
// trailing sentences whose combined size fits within overlap tokens.
func (a accumulator) flush(overlap int) accumulator {
	if len(a.buffer) == 0 {
		return a
	}

	texts := make([]string, len(a.buffer))
	for i, s := range a.buffer {
		texts[i] = s.text
	}
	next := accumulator{chunks: append(a.chunks, strings.Join(texts, " "))}

	if overlap <= 0 {
		return next
	}

	start := len(a.buffer)
	for start > 0 && next.tokens+a.buffer[start-1].tokens <= overlap {
		start--
		next.tokens += a.buffer[start].tokens
	}
	next.buffer = append([]sentence(nil), a.buffer[start:]...)
	return next
}

func (c *Chunker) assemble(texts []string, source models.MedicalSource) []models.DocumentChunk {
	chunks := make([]models.DocumentChunk, 0, len(texts))
	cursor := 0

	for i, text := range texts {
		length := utf8.RuneCountInString(text)
		chunks = append(chunks, models.DocumentChunk{
			ID:         fmt.Sprintf("%s_chunk_%d", source.ID, i),
			Text:       text,
			StartPos:   cursor,
			EndPos:     cursor + length,
			ChunkIndex: i,
			TokenCount: c.tokenizer.Count(text),
			Metadata:   source.ChunkMetadata(i),
		})
		cursor += length + 1
	}

	for i := range chunks {
		chunks[i].Metadata.TotalChunks = len(chunks)
	}

	return chunks
}

// splitSentences ends a sentence at '.', '!' or '?' followed by whitespace
// and an uppercase letter. The remainder is its own sentence.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string

	add := func(r []rune) {
		if s := strings.TrimSpace(string(r)); s != "" {
			sentences = append(sentences, s)
		}
	}

	start := 0
	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) || !unicode.IsUpper(runes[j]) {
			continue
		}
		add(runes[start : i+1])
		start = j
		i = j - 1
	}
	add(runes[start:])

	return sentences
}
