package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/pkg/logger"
)

// Tokenizer counts text in model token units and can cut text into
// consecutive windows of at most size tokens.
type Tokenizer interface {
	Count(text string) int
	Windows(text string, size int) []string
}

// BPE ranks load from the copy embedded in tiktoken-go-loader, not the network.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

type Tiktoken struct {
	encoding string
	tkm      *tiktoken.Tiktoken
}

func NewTiktoken(encoding string) (*Tiktoken, error) {
	tkm, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{encoding: encoding, tkm: tkm}, nil
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.tkm.Encode(text, nil, nil))
}

// Windows cuts text into pieces of at most size tokens each. Every window
// ends on a UTF-8 boundary and its re-encoded count fits size.
func (t *Tiktoken) Windows(text string, size int) []string {
	if size <= 0 || text == "" {
		return nil
	}
	tokens := t.tkm.Encode(text, nil, nil)
	windows := make([]string, 0, len(tokens)/size+1)
	for start := 0; start < len(tokens); {
		end := t.windowEnd(tokens, start, size)
		window := strings.TrimSpace(t.tkm.Decode(tokens[start:end]))
		if window != "" {
			windows = append(windows, window)
		}
		start = end
	}
	return windows
}

// windowEnd returns the largest end in (start, start+size] whose decoded
// text is valid UTF-8 and counts at most size tokens. When no such end
// exists (a single rune needs more than size tokens) it returns the
// shortest end that decodes to valid UTF-8.
func (t *Tiktoken) windowEnd(tokens []int, start, size int) int {
	for end := min(start+size, len(tokens)); end > start; end-- {
		decoded := t.tkm.Decode(tokens[start:end])
		if utf8.ValidString(decoded) && t.Count(strings.TrimSpace(decoded)) <= size {
			return end
		}
	}
	for end := start + 1; end < len(tokens); end++ {
		if utf8.ValidString(t.tkm.Decode(tokens[start:end])) {
			return end
		}
	}
	return len(tokens)
}

// Whitespace treats every whitespace-separated word as one token.
type Whitespace struct{}

func (Whitespace) Count(text string) int {
	return len(strings.Fields(text))
}

func (Whitespace) Windows(text string, size int) []string {
	words := strings.Fields(text)
	if size <= 0 || len(words) == 0 {
		return nil
	}
	windows := make([]string, 0, len(words)/size+1)
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		windows = append(windows, strings.Join(words[start:end], " "))
	}
	return windows
}

// New returns a tiktoken tokenizer for encoding, or the whitespace
// tokenizer when the encoding name is unknown.
func New(encoding string) Tokenizer {
	t, err := NewTiktoken(encoding)
	if err != nil {
		logger.Warn("Falling back to whitespace tokenizer",
			zap.String("encoding", encoding),
			zap.Error(err),
		)
		return Whitespace{}
	}
	logger.Info("Tokenizer initialized", zap.String("encoding", encoding))
	return t
}
