// Package classify infers which semantic role a spreadsheet column plays
// (part number, manufacturer, quantity, ...) from its header and sample
// values. Inference runs against a pre-trained one-vs-rest linear model;
// training happens offline and is not part of this service.
//
// The classifier is advisory. When the model artifact is absent or scoring
// fails, predictions degrade to sentinels and the user maps columns by
// hand — the upload pipeline never fails because of classification.
package classify

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Sentinel categories for degraded predictions.
const (
	NotLoadedCategory = "Model not loaded"
	errorCategory     = "Error"
)

// Prediction holds the top-two role guesses for one column.
// PrimaryConfidence >= SecondaryConfidence always holds.
type Prediction struct {
	PrimaryCategory     string  `json:"primary_category"`
	PrimaryConfidence   float64 `json:"primary_confidence"`
	SecondaryCategory   string  `json:"secondary_category"`
	SecondaryConfidence float64 `json:"secondary_confidence"`
}

// Classifier wraps the loaded model. A Classifier with no model is valid
// and returns "Model not loaded" sentinels. The model is immutable after
// Load, so concurrent Predict calls are safe.
type Classifier struct {
	model *Model
}

// New wraps an already-loaded model. model may be nil for degraded mode.
func New(model *Model) *Classifier {
	return &Classifier{model: model}
}

// Load searches the candidate paths in order and returns a classifier
// backed by the first loadable model. It never fails: an unusable or
// missing artifact yields a degraded classifier.
func Load(primary string) *Classifier {
	for _, path := range CandidatePaths(primary) {
		m, err := LoadModel(path)
		if err != nil {
			slog.Debug("classifier model not usable", "path", path, "error", err)
			continue
		}
		slog.Info("column-classifier model loaded", "path", path, "classes", len(m.Classes))
		return &Classifier{model: m}
	}
	slog.Warn("column-classifier model not found, running without predictions")
	return &Classifier{}
}

// CandidatePaths returns the ordered locations searched for the model
// artifact. The configured path, when set, is tried first.
func CandidatePaths(primary string) []string {
	paths := []string{
		"models/column_classifier_model.json",
		"column_classifier_model.json",
	}
	if primary != "" {
		return append([]string{primary}, paths...)
	}
	return paths
}

// Loaded reports whether a model is available.
func (c *Classifier) Loaded() bool {
	return c.model != nil
}

// Predict returns one Prediction per input text. Inputs are the column
// header concatenated with sample values.
//
// A scoring failure never propagates: the whole batch degrades to an
// "Error: ..." sentinel so the upload keeps working.
func (c *Classifier) Predict(texts []string) (preds []Prediction) {
	if c.model == nil {
		return sentinelBatch(len(texts), NotLoadedCategory, NotLoadedCategory)
	}

	defer func() {
		// gonum panics on dimension mismatches; a corrupt artifact must
		// degrade, not abort the upload.
		if r := recover(); r != nil {
			slog.Error("model prediction failed", "panic", r)
			preds = sentinelBatch(len(texts), fmt.Sprintf("Error: %v", r), errorCategory)
		}
	}()

	preds = make([]Prediction, len(texts))
	for i, text := range texts {
		scores := c.model.decisionScores(text)
		probs := softmax(scores)
		first, second := topTwo(probs)
		preds[i] = Prediction{
			PrimaryCategory:     c.model.Classes[first],
			PrimaryConfidence:   round4(probs[first]),
			SecondaryCategory:   c.model.Classes[second],
			SecondaryConfidence: round4(probs[second]),
		}
	}
	return preds
}

// decisionScores computes W*x + b for one input text.
func (m *Model) decisionScores(text string) []float64 {
	x := mat.NewVecDense(m.features, m.featurize(text))

	scores := mat.NewVecDense(len(m.Classes), nil)
	scores.MulVec(m.weights, x)
	scores.AddVec(scores, mat.NewVecDense(len(m.Classes), m.Intercepts))
	return scores.RawVector().Data
}

// featurize builds a bag-of-words count vector over the model vocabulary.
func (m *Model) featurize(text string) []float64 {
	x := make([]float64, m.features)
	for _, tok := range tokenize(text) {
		if idx, ok := m.Vocabulary[tok]; ok {
			x[idx]++
		}
	}
	return x
}

// tokenize lowercases and splits on any non-alphanumeric rune, matching
// the preprocessing the model was trained with.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// softmax converts decision scores into a confidence-like distribution.
// The row max is subtracted before exponentiating for numeric stability.
// Not mathematically rigorous for margin classifiers, but fine for ranking.
func softmax(scores []float64) []float64 {
	maxScore := floats.Max(scores)
	probs := make([]float64, len(scores))
	for i, s := range scores {
		probs[i] = math.Exp(s - maxScore)
	}
	total := floats.Sum(probs)
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

// topTwo returns the indices of the two highest probabilities.
func topTwo(probs []float64) (first, second int) {
	first = 0
	for i, p := range probs {
		if p > probs[first] {
			first = i
		}
	}
	second = -1
	for i, p := range probs {
		if i == first {
			continue
		}
		if second < 0 || p > probs[second] {
			second = i
		}
	}
	return first, second
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

func sentinelBatch(n int, primary, secondary string) []Prediction {
	preds := make([]Prediction, n)
	for i := range preds {
		preds[i] = Prediction{
			PrimaryCategory:   primary,
			SecondaryCategory: secondary,
		}
	}
	return preds
}
