package inference

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Tokenizer maps URL characters to vocabulary codes. Code 0 is padding and
// also stands for characters outside the vocabulary.
type Tokenizer struct {
	index   map[rune]int32
	lower   bool
	maxLen  int
	maxCode int32
}

type tokenizerFile struct {
	WordIndex map[string]int32 `json:"word_index"`
	Lower     bool             `json:"lower"`
}

func NewTokenizer(index map[rune]int32, lower bool, maxLen int) (*Tokenizer, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("%w: sequence length must be positive, got %d", ErrIntegrity, maxLen)
	}
	t := &Tokenizer{index: make(map[rune]int32, len(index)), lower: lower, maxLen: maxLen}
	for r, code := range index {
		if code <= 0 {
			return nil, fmt.Errorf("%w: character %q has reserved code %d", ErrIntegrity, r, code)
		}
		t.index[r] = code
		if code > t.maxCode {
			t.maxCode = code
		}
	}
	return t, nil
}

// LoadTokenizer reads tokenizer.json ({"word_index": {...}, "lower": bool}).
// Every key must be a single character.
func LoadTokenizer(r io.Reader, maxLen int) (*Tokenizer, error) {
	var file tokenizerFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode tokenizer: %w", err)
	}
	if len(file.WordIndex) == 0 {
		return nil, fmt.Errorf("%w: empty tokenizer vocabulary", ErrIntegrity)
	}

	index := make(map[rune]int32, len(file.WordIndex))
	for key, code := range file.WordIndex {
		r, size := utf8.DecodeRuneInString(key)
		if size == 0 || size != len(key) {
			return nil, fmt.Errorf("%w: vocabulary key %q is not a single character", ErrIntegrity, key)
		}
		index[r] = code
	}
	return NewTokenizer(index, file.Lower, maxLen)
}

// Encode returns exactly MaxLen codes: the URL's characters in order,
// truncated at the end or padded with zeros.
func (t *Tokenizer) Encode(rawURL string) []int32 {
	if t.lower {
		rawURL = strings.ToLower(rawURL)
	}
	seq := make([]int32, t.maxLen)
	i := 0
	for _, r := range rawURL {
		if i == t.maxLen {
			break
		}
		seq[i] = t.index[r]
		i++
	}
	return seq
}

func (t *Tokenizer) MaxLen() int { return t.maxLen }

// MaxCode is the largest code Encode can emit.
func (t *Tokenizer) MaxCode() int32 { return t.maxCode }

func (t *Tokenizer) VocabSize() int { return len(t.index) }
