package ngram

import (
	"fmt"
	"strings"
)

// Mode selects the unit n-grams are drawn from.
type Mode string

const (
	// ModeByte builds n-grams over the UTF-8 bytes of the text.
	ModeByte Mode = "byte"
	// ModePOS builds n-grams over part-of-speech tags within sentences.
	ModePOS Mode = "pos"
)

// ParseMode parses a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeByte, ModePOS:
		return m, nil
	case "":
		return ModeByte, nil
	default:
		return "", fmt.Errorf("unknown n-gram mode: %q", s)
	}
}

// Builder turns a text into a frequency distribution.
type Builder interface {
	Build(text string) (*Distribution, error)
}

// ByteBuilder builds byte n-gram distributions.
type ByteBuilder struct {
	Order int
}

// Build implements Builder.
func (b ByteBuilder) Build(text string) (*Distribution, error) {
	return BuildBytes(text, b.Order)
}

// BuildBytes counts every overlapping byte window of the given order in the
// UTF-8 encoding of text. Texts shorter than order yield an empty distribution.
func BuildBytes(text string, order int) (*Distribution, error) {
	if order < 1 {
		return nil, ErrInvalidOrder
	}

	n := WindowCount(len(text), order)
	d := &Distribution{order: order, counts: make(map[string]int, n)}
	for i := 0; i < n; i++ {
		d.counts[text[i:i+order]]++
	}
	d.total = n
	return d, nil
}

// NewBuilder returns the builder for mode. The tagger is required for ModePOS
// and ignored otherwise; a nil tokenizer falls back to RegexpTokenizer.
func NewBuilder(mode Mode, order int, tok Tokenizer, tagger Tagger) (Builder, error) {
	if order < 1 {
		return nil, ErrInvalidOrder
	}
	switch mode {
	case ModeByte, "":
		return ByteBuilder{Order: order}, nil
	case ModePOS:
		if tagger == nil {
			return nil, ErrNoTagger
		}
		if tok == nil {
			tok = RegexpTokenizer{}
		}
		return POSBuilder{Order: order, Tokenizer: tok, Tagger: tagger}, nil
	default:
		return nil, fmt.Errorf("unknown n-gram mode: %q", mode)
	}
}

// Build builds the distribution of text for the given order and mode.
func Build(text string, order int, mode Mode, tagger Tagger) (*Distribution, error) {
	b, err := NewBuilder(mode, order, nil, tagger)
	if err != nil {
		return nil, err
	}
	return b.Build(text)
}
