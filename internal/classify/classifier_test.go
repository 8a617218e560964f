package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// testModel builds a small hand-weighted model: each class fires on its
// own vocabulary terms.
func testModel(t *testing.T) *Model {
	t.Helper()

	m, err := ParseModel([]byte(`{
		"classes": ["ManufacturerPN", "Quantity", "Manufacturer"],
		"vocabulary": {"part": 0, "number": 1, "pn": 2, "qty": 3, "quantity": 4, "acme": 5, "inc": 6},
		"weights": [
			[2.0, 2.0, 3.0, -1.0, -1.0, -0.5, -0.5],
			[-1.0, 0.5, -1.0, 3.0, 3.0, -1.0, -1.0],
			[-0.5, -1.0, -1.0, -1.0, -1.0, 3.0, 2.0]
		],
		"intercepts": [0.1, 0.0, -0.1]
	}`))
	require.NoError(t, err)
	return m
}

func TestPredictRanksExpectedRole(t *testing.T) {
	c := New(testModel(t))

	tests := []struct {
		text string
		want string
	}{
		{"Part Number: ABC123, XYZ789", "ManufacturerPN"},
		{"Qty: 1, 2, 10", "Quantity"},
		{"Vendor: Acme Inc, Acme Inc", "Manufacturer"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			preds := c.Predict([]string{tt.text})
			require.Len(t, preds, 1)
			assert.Equal(t, tt.want, preds[0].PrimaryCategory)
		})
	}
}

func TestPredictConfidenceInvariants(t *testing.T) {
	c := New(testModel(t))

	texts := []string{
		"Part Number: ABC123",
		"Qty: 5, 10",
		"no recognizable tokens here ###",
		"",
	}
	for _, p := range c.Predict(texts) {
		assert.GreaterOrEqual(t, p.PrimaryConfidence, p.SecondaryConfidence,
			"primary must rank at least as high as secondary")
		assert.GreaterOrEqual(t, p.PrimaryConfidence, 0.0)
		assert.LessOrEqual(t, p.PrimaryConfidence, 1.0)
		assert.GreaterOrEqual(t, p.SecondaryConfidence, 0.0)
		assert.LessOrEqual(t, p.SecondaryConfidence, 1.0)
		assert.NotEqual(t, p.PrimaryCategory, p.SecondaryCategory)
	}
}

func TestPredictWithoutModel(t *testing.T) {
	c := New(nil)

	preds := c.Predict([]string{"Part Number: ABC", "Qty: 1"})
	require.Len(t, preds, 2)
	for _, p := range preds {
		assert.Equal(t, NotLoadedCategory, p.PrimaryCategory)
		assert.Equal(t, NotLoadedCategory, p.SecondaryCategory)
		assert.Zero(t, p.PrimaryConfidence)
		assert.Zero(t, p.SecondaryConfidence)
	}
	assert.False(t, c.Loaded())
}

func TestPredictRecoversFromScoringFailure(t *testing.T) {
	// A weight matrix whose shape disagrees with the feature count makes
	// the multiply panic; the batch must degrade to error sentinels.
	m := testModel(t)
	m.weights = mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})

	preds := New(m).Predict([]string{"Part Number: ABC", "Qty: 1"})
	require.Len(t, preds, 2)
	for _, p := range preds {
		assert.True(t, strings.HasPrefix(p.PrimaryCategory, "Error:"),
			"primary = %q, want Error sentinel", p.PrimaryCategory)
		assert.Zero(t, p.PrimaryConfidence)
	}
}

func TestParseModelRejectsBadArtifacts(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `{{{`},
		{"one class", `{"classes":["A"],"vocabulary":{"a":0},"weights":[[1]],"intercepts":[0]}`},
		{"ragged weights", `{"classes":["A","B"],"vocabulary":{"a":0},"weights":[[1,2],[3]],"intercepts":[0,0]}`},
		{"intercept mismatch", `{"classes":["A","B"],"vocabulary":{"a":0},"weights":[[1],[2]],"intercepts":[0]}`},
		{"vocab out of range", `{"classes":["A","B"],"vocabulary":{"a":9},"weights":[[1],[2]],"intercepts":[0,0]}`},
		{"empty vocabulary", `{"classes":["A","B"],"vocabulary":{},"weights":[[1],[2]],"intercepts":[0,0]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModel([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	c := Load("/nonexistent/model.json")
	assert.False(t, c.Loaded())
}

func TestCandidatePathsOrder(t *testing.T) {
	paths := CandidatePaths("/etc/bomcheck/model.json")
	require.NotEmpty(t, paths)
	assert.Equal(t, "/etc/bomcheck/model.json", paths[0], "configured path is tried first")

	// Without a configured path the well-known locations remain.
	assert.NotContains(t, CandidatePaths(""), "")
}

func TestTokenize(t *testing.T) {
	got := tokenize("Part-Number: R1,R2 (Qty=10)")
	assert.Equal(t, []string{"part", "number", "r1", "r2", "qty", "10"}, got)
}
