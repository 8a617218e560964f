package classify

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Model is the pre-trained one-vs-rest linear classifier artifact,
// exported offline from the training pipeline as JSON:
//
//	{
//	  "classes":    ["ManufacturerPN", "Quantity", ...],
//	  "vocabulary": {"qty": 0, "part": 1, ...},
//	  "weights":    [[...], ...],   // one row per class, one column per term
//	  "intercepts": [...]
//	}
//
// The loaded model is read-only; one instance serves all requests.
type Model struct {
	Classes    []string       `json:"classes"`
	Vocabulary map[string]int `json:"vocabulary"`
	Weights    [][]float64    `json:"weights"`
	Intercepts []float64      `json:"intercepts"`

	features int
	weights  *mat.Dense
}

// LoadModel reads and validates a model artifact from disk.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseModel(data)
}

// ParseModel decodes and validates a model artifact.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}

	// Flatten the weight matrix once so Predict only multiplies.
	flat := make([]float64, 0, len(m.Classes)*m.features)
	for _, row := range m.Weights {
		flat = append(flat, row...)
	}
	m.weights = mat.NewDense(len(m.Classes), m.features, flat)
	return &m, nil
}

func (m *Model) validate() error {
	if len(m.Classes) < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", len(m.Classes))
	}
	if len(m.Weights) != len(m.Classes) {
		return fmt.Errorf("weights rows (%d) != classes (%d)", len(m.Weights), len(m.Classes))
	}
	if len(m.Intercepts) != len(m.Classes) {
		return fmt.Errorf("intercepts (%d) != classes (%d)", len(m.Intercepts), len(m.Classes))
	}
	if len(m.Vocabulary) == 0 {
		return fmt.Errorf("empty vocabulary")
	}

	m.features = len(m.Weights[0])
	for i, row := range m.Weights {
		if len(row) != m.features {
			return fmt.Errorf("weights row %d has %d columns, want %d", i, len(row), m.features)
		}
	}
	for term, idx := range m.Vocabulary {
		if idx < 0 || idx >= m.features {
			return fmt.Errorf("vocabulary term %q index %d out of range [0,%d)", term, idx, m.features)
		}
	}
	return nil
}
