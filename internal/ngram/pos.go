package ngram

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	// ErrNoTagger is returned when part-of-speech mode is selected without a tagger.
	ErrNoTagger = errors.New("part-of-speech mode requires a tagger")
	// ErrTagMismatch is returned when a tagger does not return one tag per word.
	ErrTagMismatch = errors.New("tagger returned wrong number of tags")
)

// Tokenizer splits text into sentences and sentences into words.
type Tokenizer interface {
	Sentences(text string) []string
	Words(sentence string) []string
}

// Tagger assigns one part-of-speech tag per word. Implementations must
// return a slice of the same length as words.
type Tagger interface {
	Tag(words []string) []string
}

// TaggerFunc adapts a plain function to Tagger.
type TaggerFunc func(words []string) []string

// Tag implements Tagger.
func (f TaggerFunc) Tag(words []string) []string {
	return f(words)
}

// POSBuilder builds tag n-gram distributions. Windows never cross sentence
// boundaries.
type POSBuilder struct {
	Order     int
	Tokenizer Tokenizer
	Tagger    Tagger
}

// tagSeparator joins tags inside a key. It cannot appear in a tag produced
// from tokenized text.
const tagSeparator = "\x1f"

// Build implements Builder.
func (b POSBuilder) Build(text string) (*Distribution, error) {
	if b.Order < 1 {
		return nil, ErrInvalidOrder
	}
	if b.Tagger == nil {
		return nil, ErrNoTagger
	}
	tok := b.Tokenizer
	if tok == nil {
		tok = RegexpTokenizer{}
	}

	d := &Distribution{order: b.Order, counts: make(map[string]int)}
	for _, sentence := range tok.Sentences(text) {
		words := tok.Words(sentence)
		if len(words) < b.Order {
			continue
		}
		tags := b.Tagger.Tag(words)
		if len(tags) != len(words) {
			return nil, fmt.Errorf("%w: %d words, %d tags", ErrTagMismatch, len(words), len(tags))
		}
		n := WindowCount(len(tags), b.Order)
		for i := 0; i < n; i++ {
			d.counts[strings.Join(tags[i:i+b.Order], tagSeparator)]++
		}
		d.total += n
	}
	return d, nil
}

// BuildPOS builds a tag n-gram distribution with the default tokenizer.
func BuildPOS(text string, order int, tagger Tagger) (*Distribution, error) {
	return POSBuilder{Order: order, Tagger: tagger}.Build(text)
}

// SplitKey returns the tags of a part-of-speech n-gram key.
func SplitKey(key string) []string {
	return strings.Split(key, tagSeparator)
}

var (
	sentencePattern = regexp.MustCompile(`[^.!?]+(?:[.!?]+['")\]]*|$)`)
	wordPattern     = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*|--|[^\s\p{L}\p{N}]`)
)

// RegexpTokenizer splits on terminal punctuation and word boundaries.
type RegexpTokenizer struct{}

// Sentences implements Tokenizer.
func (RegexpTokenizer) Sentences(text string) []string {
	var sentences []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// Words implements Tokenizer.
func (RegexpTokenizer) Words(sentence string) []string {
	return wordPattern.FindAllString(sentence, -1)
}

// ShapeTagger tags words by orthographic shape. It needs no trained model and
// stands in where a real part-of-speech tagger is unavailable.
type ShapeTagger struct{}

// Tag implements Tagger.
func (ShapeTagger) Tag(words []string) []string {
	tags := make([]string, len(words))
	for i, w := range words {
		tags[i] = shapeOf(w)
	}
	return tags
}

func shapeOf(w string) string {
	if w == "--" {
		return ":"
	}

	var letters, upper, digits int
	first := true
	firstUpper := false
	for _, r := range w {
		switch {
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
				if first {
					firstUpper = true
				}
			}
		case unicode.IsDigit(r):
			digits++
		}
		first = false
	}

	switch {
	case letters == 0 && digits > 0:
		return "NUM"
	case letters == 0 && digits == 0:
		if strings.ContainsAny(w, ".,:;!?'()") && len(w) == 1 {
			return w
		}
		return "SYM"
	case upper == letters && letters > 1:
		return "UPPER"
	case firstUpper && upper == 1:
		return "CAP"
	case upper == 0:
		return "LOWER"
	default:
		return "MIXED"
	}
}
