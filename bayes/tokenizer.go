package bayes

import (
	"fmt"
	"strings"

	"github.com/kljensen/snowball"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Tokenizer turns text into tokens. The zero value lower-cases the text and
// splits it on whitespace; normalization and stemming are opt-in. A model
// records its tokenizer so prediction tokenizes exactly like training did.
type Tokenizer struct {
	// Normalization is "", "nfc" or "nfkc".
	Normalization string `json:"normalization,omitempty"`
	// StemLanguage is a snowball language name such as "english"; empty disables stemming.
	StemLanguage string `json:"stem_language,omitempty"`
}

// Validate checks the tokenizer settings.
func (t Tokenizer) Validate() error {
	switch t.Normalization {
	case "", "nfc", "nfkc":
	default:
		return fmt.Errorf("unsupported normalization %q", t.Normalization)
	}

	if t.StemLanguage != "" {
		if _, err := snowball.Stem("test", t.StemLanguage, true); err != nil {
			return fmt.Errorf("unsupported stem language %q: %w", t.StemLanguage, err)
		}
	}

	return nil
}

// Tokenize lower-cases text and splits it on whitespace, applying the
// configured normalization before and stemming after.
func (t Tokenizer) Tokenize(text string) []string {
	switch t.Normalization {
	case "nfc":
		text = norm.NFC.String(text)
	case "nfkc":
		text = norm.NFKC.String(text)
	}

	// Casers carry state and are not safe for concurrent use.
	tokens := strings.Fields(cases.Lower(language.Und).String(text))
	if t.StemLanguage == "" {
		return tokens
	}

	for i, token := range tokens {
		stemmed, err := snowball.Stem(token, t.StemLanguage, true)
		if err == nil && stemmed != "" {
			tokens[i] = stemmed
		}
	}
	return tokens
}
