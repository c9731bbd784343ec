package category

import (
	"errors"
	"fmt"
	"sort"
)

var errVocabularyMissing = errors.New("vocabulary does not match category tokens")

// Categories is a fixed, index-addressed set of categories plus the vocabulary
// shared across them. The vocabulary is rebuilt explicitly, never incrementally.
type Categories struct {
	categories []*Category
	vocabulary map[string]struct{}
}

// NewCategories returns n empty categories.
func NewCategories(n int) *Categories {
	cats := &Categories{
		categories: make([]*Category, n),
		vocabulary: make(map[string]struct{}),
	}
	for i := range cats.categories {
		cats.categories[i] = NewCategory()
	}
	return cats
}

// Len returns the number of categories.
func (cats *Categories) Len() int {
	return len(cats.categories)
}

// Category returns the category at index i.
func (cats *Categories) Category(i int) *Category {
	return cats.categories[i]
}

// TotalDocuments returns the number of documents across all categories.
func (cats *Categories) TotalDocuments() int {
	total := 0
	for _, cat := range cats.categories {
		total += cat.documents
	}
	return total
}

// RebuildVocabulary recomputes the vocabulary as the union of all category tokens.
func (cats *Categories) RebuildVocabulary() {
	vocabulary := make(map[string]struct{})
	for _, cat := range cats.categories {
		for token := range cat.tokens {
			vocabulary[token] = struct{}{}
		}
	}
	cats.vocabulary = vocabulary
}

// VocabularySize returns the number of distinct tokens across all categories.
func (cats *Categories) VocabularySize() int {
	return len(cats.vocabulary)
}

// InVocabulary reports whether token was seen in any category.
func (cats *Categories) InVocabulary(token string) bool {
	_, ok := cats.vocabulary[token]
	return ok
}

// Vocabulary returns the vocabulary in sorted order.
func (cats *Categories) Vocabulary() []string {
	words := make([]string, 0, len(cats.vocabulary))
	for word := range cats.vocabulary {
		words = append(words, word)
	}
	sort.Strings(words)
	return words
}

// ExportStates returns a deep copy of every category's state, in index order.
func (cats *Categories) ExportStates() []PersistedCategory {
	states := make([]PersistedCategory, len(cats.categories))
	for i, cat := range cats.categories {
		states[i] = cat.Export()
	}
	return states
}

// RestoreCategories builds a Categories value from persisted states and a
// persisted vocabulary. The vocabulary must equal the union of category tokens.
func RestoreCategories(states []PersistedCategory, vocabulary []string) (*Categories, error) {
	cats := &Categories{
		categories: make([]*Category, len(states)),
	}
	for i, state := range states {
		cat, err := newCategoryFromState(state)
		if err != nil {
			return nil, fmt.Errorf("category %d: %w", i, err)
		}
		cats.categories[i] = cat
	}
	cats.RebuildVocabulary()

	seen := make(map[string]struct{}, len(vocabulary))
	for _, word := range vocabulary {
		if _, ok := cats.vocabulary[word]; !ok {
			return nil, fmt.Errorf("%w: unknown word %q", errVocabularyMissing, word)
		}
		if _, dup := seen[word]; dup {
			return nil, fmt.Errorf("%w: duplicate word %q", errVocabularyMissing, word)
		}
		seen[word] = struct{}{}
	}
	if len(seen) != len(cats.vocabulary) {
		return nil, fmt.Errorf("%w: %d persisted, %d derived", errVocabularyMissing, len(seen), len(cats.vocabulary))
	}

	return cats, nil
}
