package bayes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hickeroar/sentibayes/bayes/category"
)

// Classifier is a three-class multinomial Naive Bayes sentiment classifier.
//
// Training builds a fresh set of statistics and swaps it in whole, so the
// published statistics are never mutated and may be scored concurrently.
type Classifier struct {
	mu         sync.RWMutex
	categories *category.Categories
	tokenizer  Tokenizer
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTokenizer sets the tokenizer used for training and prediction.
func WithTokenizer(t Tokenizer) Option {
	return func(c *Classifier) {
		c.tokenizer = t
	}
}

// NewClassifier returns a pointer to an untrained Classifier.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		categories: category.NewCategories(NumLabels),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prediction is the classification of a single document.
type Prediction struct {
	Text      string `json:"text"`
	Label     Label  `json:"label_id"`
	Sentiment string `json:"sentiment"`
}

// Scores holds one log-probability per label, indexed by label id.
type Scores [NumLabels]float64

// MarshalJSON encodes scores keyed by label name. A class with no training
// documents has a score of -Inf, which is encoded as null.
func (s Scores) MarshalJSON() ([]byte, error) {
	out := make(map[string]*float64, NumLabels)
	for _, l := range Labels {
		if math.IsInf(s[l], 0) || math.IsNaN(s[l]) {
			out[l.String()] = nil
			continue
		}
		v := s[l]
		out[l.String()] = &v
	}
	return json.Marshal(out)
}

// Classification is a prediction together with the per-class log scores.
type Classification struct {
	Prediction
	Scores Scores `json:"scores"`
}

// TrainingReport summarizes a training pass.
type TrainingReport struct {
	Documents      int                 `json:"documents"`
	Skipped        []MalformedRowError `json:"-"`
	ClassDocuments [NumLabels]int      `json:"class_documents"`
	VocabularySize int                 `json:"vocabulary_size"`
}

// ClassInfo describes the trained statistics of one class.
type ClassInfo struct {
	Label         Label  `json:"label_id"`
	Sentiment     string `json:"sentiment"`
	Documents     int    `json:"documents"`
	Words         int    `json:"words"`
	DistinctWords int    `json:"distinct_words"`
}

// ModelInfo describes the classifier's current state.
type ModelInfo struct {
	Trained        bool        `json:"trained"`
	Classes        []ClassInfo `json:"classes"`
	VocabularySize int         `json:"vocabulary_size"`
	Tokenizer      Tokenizer   `json:"tokenizer"`
}

// Train replaces the classifier's statistics with ones accumulated from
// documents and labels. Rows whose label is not a known class are skipped and
// reported. On error the existing statistics are left untouched.
func (c *Classifier) Train(documents []string, labels []int) (TrainingReport, error) {
	if len(documents) != len(labels) {
		return TrainingReport{}, fmt.Errorf("%w: %d documents, %d labels", ErrInputShape, len(documents), len(labels))
	}

	c.mu.RLock()
	tokenizer := c.tokenizer
	c.mu.RUnlock()

	var report TrainingReport
	cats := category.NewCategories(NumLabels)
	for i, text := range documents {
		label := Label(labels[i])
		if !label.Valid() {
			report.Skipped = append(report.Skipped, MalformedRowError{
				Row:    i,
				Value:  fmt.Sprint(labels[i]),
				Reason: "label out of range",
			})
			continue
		}

		cats.Category(int(label)).TrainDocument(tokenizer.Tokenize(text))
		report.Documents++
		report.ClassDocuments[label]++
	}
	cats.RebuildVocabulary()
	report.VocabularySize = cats.VocabularySize()

	c.mu.Lock()
	c.categories = cats
	c.mu.Unlock()

	return report, nil
}

// Flush discards all training data.
func (c *Classifier) Flush() {
	c.mu.Lock()
	c.categories = category.NewCategories(NumLabels)
	c.mu.Unlock()
}

// Trained reports whether at least one training document has been seen.
func (c *Classifier) Trained() bool {
	cats, _ := c.snapshot()
	return cats.TotalDocuments() > 0
}

// Tokenizer returns the classifier's tokenizer settings.
func (c *Classifier) Tokenizer() Tokenizer {
	_, tokenizer := c.snapshot()
	return tokenizer
}

// Info returns a summary of the trained statistics.
func (c *Classifier) Info() ModelInfo {
	cats, tokenizer := c.snapshot()

	info := ModelInfo{
		Trained:        cats.TotalDocuments() > 0,
		Classes:        make([]ClassInfo, 0, NumLabels),
		VocabularySize: cats.VocabularySize(),
		Tokenizer:      tokenizer,
	}
	for _, l := range Labels {
		cat := cats.Category(int(l))
		info.Classes = append(info.Classes, ClassInfo{
			Label:         l,
			Sentiment:     l.String(),
			Documents:     cat.GetDocuments(),
			Words:         cat.GetTally(),
			DistinctWords: cat.TokenCount(),
		})
	}
	return info
}

// WordProbability returns the smoothed estimate of token occurring in label's class.
func (c *Classifier) WordProbability(token string, label Label) (float64, error) {
	if !label.Valid() {
		return 0, fmt.Errorf("invalid label %d", int(label))
	}

	cats, _ := c.snapshot()
	if cats.TotalDocuments() == 0 {
		return 0, ErrModelNotTrained
	}

	cat := cats.Category(int(label))
	return float64(cat.GetTokenCount(token)+1) / float64(cat.GetTally()+cats.VocabularySize()), nil
}

// Scores returns the log-probability of text under each class.
func (c *Classifier) Scores(text string) (Scores, error) {
	cats, tokenizer := c.snapshot()
	return score(cats, tokenizer.Tokenize(text))
}

// Classify returns the prediction for text along with its scores.
func (c *Classifier) Classify(text string) (Classification, error) {
	scores, err := c.Scores(text)
	if err != nil {
		return Classification{}, err
	}
	return Classification{
		Prediction: newPrediction(text, scores),
		Scores:     scores,
	}, nil
}

// Predict classifies every document, preserving input order. An empty input
// yields an empty result.
func (c *Classifier) Predict(documents []string) ([]Prediction, error) {
	cats, tokenizer := c.snapshot()
	if cats.TotalDocuments() == 0 {
		return nil, ErrModelNotTrained
	}

	predictions := make([]Prediction, len(documents))
	for i, text := range documents {
		scores, err := score(cats, tokenizer.Tokenize(text))
		if err != nil {
			return nil, err
		}
		predictions[i] = newPrediction(text, scores)
	}
	return predictions, nil
}

// PredictParallel is Predict spread over up to workers goroutines. Output
// order matches input order.
func (c *Classifier) PredictParallel(ctx context.Context, documents []string, workers int) ([]Prediction, error) {
	if workers <= 1 {
		return c.Predict(documents)
	}

	cats, tokenizer := c.snapshot()
	if cats.TotalDocuments() == 0 {
		return nil, ErrModelNotTrained
	}

	predictions := make([]Prediction, len(documents))
	chunk := (len(documents) + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(documents); start += chunk {
		end := min(start+chunk, len(documents))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				scores, err := score(cats, tokenizer.Tokenize(documents[i]))
				if err != nil {
					return err
				}
				predictions[i] = newPrediction(documents[i], scores)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return predictions, nil
}

// Evaluate returns the fraction of predictions whose label matches groundTruth
// at the same position.
func (c *Classifier) Evaluate(predictions []Prediction, groundTruth []int) (float64, error) {
	if !c.Trained() {
		return 0, ErrModelNotTrained
	}
	return accuracy(predictions, groundTruth)
}

func accuracy(predictions []Prediction, groundTruth []int) (float64, error) {
	if len(predictions) != len(groundTruth) {
		return 0, fmt.Errorf("%w: %d predictions, %d labels", ErrInputShape, len(predictions), len(groundTruth))
	}
	if len(predictions) == 0 {
		return 0, ErrNoPredictions
	}

	correct := 0
	for i, p := range predictions {
		if int(p.Label) == groundTruth[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(predictions)), nil
}

func (c *Classifier) snapshot() (*category.Categories, Tokenizer) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.categories, c.tokenizer
}

func newPrediction(text string, scores Scores) Prediction {
	label := argmax(scores)
	return Prediction{
		Text:      text,
		Label:     label,
		Sentiment: label.String(),
	}
}

// argmax returns the label with the highest score. Ties go to the lowest id.
func argmax(scores Scores) Label {
	best := Labels[0]
	for _, l := range Labels[1:] {
		if scores[l] > scores[best] {
			best = l
		}
	}
	return best
}

func score(cats *category.Categories, tokens []string) (Scores, error) {
	var scores Scores

	total := cats.TotalDocuments()
	if total == 0 {
		return scores, ErrModelNotTrained
	}

	vocabulary := cats.VocabularySize()
	var denominators [NumLabels]float64
	for _, l := range Labels {
		cat := cats.Category(int(l))
		scores[l] = math.Log(float64(cat.GetDocuments()) / float64(total))
		denominators[l] = float64(cat.GetTally() + vocabulary)
	}

	// An empty vocabulary means every class saw zero words; each token would
	// add the same term to every class.
	if vocabulary == 0 {
		return scores, nil
	}

	for _, token := range tokens {
		for _, l := range Labels {
			count := cats.Category(int(l)).GetTokenCount(token)
			scores[l] += math.Log(float64(count+1) / denominators[l])
		}
	}
	return scores, nil
}
