package bayes

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hickeroar/sentibayes/bayes/category"
)

const persistedModelVersion = 1

// Format selects the on-disk encoding of a model.
type Format int

const (
	// FormatJSON is the default, human-readable model encoding.
	FormatJSON Format = iota
	// FormatGob is Go's binary gob encoding.
	FormatGob
)

// FormatForPath picks gob for ".gob" files and JSON for everything else.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".gob") {
		return FormatGob
	}
	return FormatJSON
}

type tempFile interface {
	io.Writer
	Sync() error
	Close() error
	Name() string
}

var (
	errNilWriter          = errors.New("writer is nil")
	errNilReader          = errors.New("reader is nil")
	errEmptyPath          = errors.New("model path is empty")
	errUnsupportedVersion = errors.New("unsupported model version")
	createTemp            = func(dir, pattern string) (tempFile, error) { return os.CreateTemp(dir, pattern) }
	renameFile            = os.Rename
	removeFile            = os.Remove
)

// modelState is the persisted form of a trained classifier.
type modelState struct {
	Version int `json:"version"`

	PositiveWords map[string]int `json:"positive_words"`
	NeutralWords  map[string]int `json:"neutral_words"`
	NegativeWords map[string]int `json:"negative_words"`
	Dictionary    []string       `json:"dictionary"`

	PositiveSentences int `json:"positive_sentences"`
	NeutralSentences  int `json:"neutral_sentences"`
	NegativeSentences int `json:"negative_sentences"`

	NumberOfPositiveWords int `json:"number_of_positive_words"`
	NumberOfNeutralWords  int `json:"number_of_neutral_words"`
	NumberOfNegativeWords int `json:"number_of_negative_words"`

	Tokenizer Tokenizer `json:"tokenizer"`
}

func newModelState(cats *category.Categories, tokenizer Tokenizer) modelState {
	states := cats.ExportStates()
	pos, neu, neg := states[Positive], states[Neutral], states[Negative]

	return modelState{
		Version:               persistedModelVersion,
		PositiveWords:         pos.Tokens,
		NeutralWords:          neu.Tokens,
		NegativeWords:         neg.Tokens,
		Dictionary:            cats.Vocabulary(),
		PositiveSentences:     pos.Documents,
		NeutralSentences:      neu.Documents,
		NegativeSentences:     neg.Documents,
		NumberOfPositiveWords: pos.Tally,
		NumberOfNeutralWords:  neu.Tally,
		NumberOfNegativeWords: neg.Tally,
		Tokenizer:             tokenizer,
	}
}

func (s modelState) categoryStates() []category.PersistedCategory {
	states := make([]category.PersistedCategory, NumLabels)
	states[Positive] = category.PersistedCategory{Tokens: s.PositiveWords, Tally: s.NumberOfPositiveWords, Documents: s.PositiveSentences}
	states[Neutral] = category.PersistedCategory{Tokens: s.NeutralWords, Tally: s.NumberOfNeutralWords, Documents: s.NeutralSentences}
	states[Negative] = category.PersistedCategory{Tokens: s.NegativeWords, Tally: s.NumberOfNegativeWords, Documents: s.NegativeSentences}
	return states
}

// Save writes the classifier's model to w.
func (c *Classifier) Save(w io.Writer, format Format) error {
	if w == nil {
		return fmt.Errorf("%w: %w", ErrPersistence, errNilWriter)
	}

	cats, tokenizer := c.snapshot()
	state := newModelState(cats, tokenizer)

	var err error
	switch format {
	case FormatGob:
		err = gob.NewEncoder(w).Encode(state)
	default:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		err = enc.Encode(state)
	}
	if err != nil {
		return fmt.Errorf("%w: encode model: %w", ErrPersistence, err)
	}

	return nil
}

// Load reads a model from r and replaces the classifier's state, including
// its tokenizer settings. Invalid models leave the classifier unchanged.
func (c *Classifier) Load(r io.Reader, format Format) error {
	if r == nil {
		return fmt.Errorf("%w: %w", ErrPersistence, errNilReader)
	}

	var state modelState
	var err error
	switch format {
	case FormatGob:
		err = gob.NewDecoder(r).Decode(&state)
	default:
		err = json.NewDecoder(r).Decode(&state)
	}
	if err != nil {
		return fmt.Errorf("%w: decode model: %w", ErrPersistence, err)
	}

	cats, err := restoreModelState(state)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	c.mu.Lock()
	c.categories = cats
	c.tokenizer = state.Tokenizer
	c.mu.Unlock()

	return nil
}

// SaveToFile writes the model to path atomically. The format follows the
// file extension.
func (c *Classifier) SaveToFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: %w", ErrPersistence, errEmptyPath)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create model dir: %w", ErrPersistence, err)
	}

	tempFile, err := createTemp(dir, ".sentibayes-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrPersistence, err)
	}
	tempPath := tempFile.Name()
	defer removeFile(tempPath)

	if err := c.Save(tempFile, FormatForPath(path)); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("%w: sync temp file: %w", ErrPersistence, err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %w", ErrPersistence, err)
	}

	if err := renameFile(tempPath, path); err != nil {
		return fmt.Errorf("%w: rename temp file: %w", ErrPersistence, err)
	}

	return nil
}

// LoadFromFile reads a model from path. The format follows the file extension.
func (c *Classifier) LoadFromFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: %w", ErrPersistence, errEmptyPath)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open model file: %w", ErrPersistence, err)
	}
	defer f.Close()

	return c.Load(f, FormatForPath(path))
}

func restoreModelState(state modelState) (*category.Categories, error) {
	if state.Version != persistedModelVersion {
		return nil, fmt.Errorf("%w: %d", errUnsupportedVersion, state.Version)
	}
	if err := state.Tokenizer.Validate(); err != nil {
		return nil, err
	}

	return category.RestoreCategories(state.categoryStates(), state.Dictionary)
}
