package category

import (
	"errors"
	"fmt"
)

var (
	errInvalidCount     = errors.New("count must be greater than zero")
	errEmptyToken       = errors.New("token must not be empty")
	errInvalidTally     = errors.New("invalid tally")
	errInvalidDocuments = errors.New("invalid document count")
)

// Category holds the word statistics accumulated for a single sentiment class.
type Category struct {
	tokens    map[string]int
	tally     int
	documents int
}

// PersistedCategory is the serializable form of a category.
type PersistedCategory struct {
	Tokens    map[string]int
	Tally     int
	Documents int
}

// NewCategory returns a pointer to an empty Category.
func NewCategory() *Category {
	return &Category{
		tokens: make(map[string]int),
	}
}

// TrainDocument counts one document and every token it contains.
func (cat *Category) TrainDocument(tokens []string) {
	cat.documents++
	for _, token := range tokens {
		cat.tokens[token]++
		cat.tally++
	}
}

// TrainToken adds count occurrences of word without counting a document.
func (cat *Category) TrainToken(word string, count int) error {
	if count <= 0 {
		return errInvalidCount
	}
	if word == "" {
		return errEmptyToken
	}

	cat.tokens[word] += count
	cat.tally += count

	return nil
}

// GetTokenCount returns a token's count in this category.
func (cat *Category) GetTokenCount(word string) int {
	return cat.tokens[word]
}

// GetTally returns the total of all tokens for this category.
func (cat *Category) GetTally() int {
	return cat.tally
}

// GetDocuments returns the number of documents trained into this category.
func (cat *Category) GetDocuments() int {
	return cat.documents
}

// TokenCount returns the number of distinct tokens seen in this category.
func (cat *Category) TokenCount() int {
	return len(cat.tokens)
}

// Export returns a deep copy of the category's state.
func (cat *Category) Export() PersistedCategory {
	tokens := make(map[string]int, len(cat.tokens))
	for token, count := range cat.tokens {
		tokens[token] = count
	}

	return PersistedCategory{
		Tokens:    tokens,
		Tally:     cat.tally,
		Documents: cat.documents,
	}
}

// Validate checks that the persisted counts are internally consistent.
func (p PersistedCategory) Validate() error {
	if p.Tally < 0 {
		return fmt.Errorf("%w: %d", errInvalidTally, p.Tally)
	}
	if p.Documents < 0 {
		return fmt.Errorf("%w: %d", errInvalidDocuments, p.Documents)
	}

	sum := 0
	for token, count := range p.Tokens {
		if token == "" {
			return errEmptyToken
		}
		if count <= 0 {
			return fmt.Errorf("%w: token %q has %d", errInvalidCount, token, count)
		}
		sum += count
	}

	if sum != p.Tally {
		return fmt.Errorf("%w: tally=%d sum=%d", errInvalidTally, p.Tally, sum)
	}
	if p.Tally > 0 && p.Documents == 0 {
		return fmt.Errorf("%w: %d words in zero documents", errInvalidDocuments, p.Tally)
	}

	return nil
}

func newCategoryFromState(p PersistedCategory) (*Category, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cat := NewCategory()
	for token, count := range p.Tokens {
		cat.tokens[token] = count
	}
	cat.tally = p.Tally
	cat.documents = p.Documents

	return cat, nil
}
