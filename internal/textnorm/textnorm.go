// Package textnorm canonicalizes raw text before any distributional measurement.
//
// Normalization folds away variance that carries no authorship signal:
// byte-order marks, concrete digit values, typographic quote and dash
// variants, and whitespace layout.
package textnorm

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Form selects an optional Unicode normalization form applied after BOM removal.
type Form string

const (
	FormNone Form = ""
	FormNFC  Form = "nfc"
	FormNFKC Form = "nfkc"
	FormNFD  Form = "nfd"
	FormNFKD Form = "nfkd"
)

// ParseForm parses a configuration value into a Form.
func ParseForm(s string) (Form, error) {
	switch f := Form(strings.ToLower(strings.TrimSpace(s))); f {
	case FormNone, FormNFC, FormNFKC, FormNFD, FormNFKD:
		return f, nil
	case "none":
		return FormNone, nil
	default:
		return FormNone, fmt.Errorf("unknown unicode form: %q", s)
	}
}

// byteOrderMarks are stripped literally. The second entry is a UTF-8 BOM that
// was decoded as Latin-1 somewhere upstream; the last two are raw UTF-16 marks.
var byteOrderMarks = []string{
	"\uFEFF",
	"\u00EF\u00BB\u00BF",
	"\xFF\xFE",
	"\xFE\xFF",
}

var (
	digitPattern = regexp.MustCompile(`[0-9]`)

	// Doubled backticks and the curly, low-9 and angled quote family all
	// become an apostrophe; runs of apostrophes then collapse to one.
	quotePattern         = regexp.MustCompile("``|[\"„“”‘’«»]")
	apostropheRunPattern = regexp.MustCompile(`'{2,}`)

	// A run of dash characters becomes "--" when it holds a Unicode dash or
	// at least two hyphens. A lone hyphen is left alone.
	dashPattern = regexp.MustCompile("[‒–—―-]{2,}|[‒–—―]")
)

// Normalizer applies the normalization pipeline with an optional Unicode form.
type Normalizer struct {
	Form Form
}

// Normalize canonicalizes text with no Unicode form pass.
func Normalize(text string) string {
	return Normalizer{}.Normalize(text)
}

// Normalize runs, in order: BOM removal, optional Unicode normalization, digit
// folding, quote unification, dash unification, whitespace collapsing and
// trimming. The result is stable under repeated application.
func (n Normalizer) Normalize(text string) string {
	text = stripByteOrderMarks(text)
	if n.Form != FormNone {
		// Composition can rebuild a BOM sequence from its parts.
		text = stripByteOrderMarks(n.applyForm(text))
	}
	text = digitPattern.ReplaceAllLiteralString(text, "0")
	text = quotePattern.ReplaceAllLiteralString(text, "'")
	text = apostropheRunPattern.ReplaceAllLiteralString(text, "'")
	text = dashPattern.ReplaceAllLiteralString(text, "--")
	return strings.Join(strings.Fields(text), " ")
}

// stripByteOrderMarks removes BOM sequences until none remain, since removing
// one can splice together the bytes of another.
func stripByteOrderMarks(text string) string {
	for {
		before := text
		for _, bom := range byteOrderMarks {
			text = strings.ReplaceAll(text, bom, "")
		}
		if text == before {
			return text
		}
	}
}

func (n Normalizer) applyForm(text string) string {
	switch n.Form {
	case FormNFC:
		return norm.NFC.String(text)
	case FormNFKC:
		return norm.NFKC.String(text)
	case FormNFD:
		return norm.NFD.String(text)
	case FormNFKD:
		return norm.NFKD.String(text)
	default:
		return text
	}
}
