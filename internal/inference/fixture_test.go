package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

// tinyWeights is a one-channel network small enough to evaluate by hand:
// score = sigmoid(relu(max_t relu(embed[tok_t])) + relu(sum(numeric))).
func tinyWeights(maxLen, numFeatures int) NetworkWeights {
	numKernel := make([][]float64, numFeatures)
	for i := range numKernel {
		numKernel[i] = []float64{1}
	}
	return NetworkWeights{
		MaxLen:      maxLen,
		NumFeatures: numFeatures,
		Embedding:   [][]float64{{0}, {0.5}, {2}},
		Conv: ConvWeights{
			Kernel: [][][]float64{{{1}}},
			Bias:   []float64{0},
		},
		Numeric: DenseWeights{Kernel: numKernel, Bias: []float64{0}},
		Hidden:  DenseWeights{Kernel: [][]float64{{1}, {1}}, Bias: []float64{0}},
		Output:  DenseWeights{Kernel: [][]float64{{1}}, Bias: []float64{0}},
	}
}

// writeBundle lays out a complete native artifact directory for a
// three-feature schema and a two-letter vocabulary.
func writeBundle(t *testing.T, mutate func(files map[string]any)) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]any{
		TokenizerFile: map[string]any{"word_index": map[string]int{"a": 1, "b": 2}, "lower": false},
		ScalerFile:    map[string]any{"mean": []float64{0, 0, 0}, "scale": []float64{1, 1, 1}},
		NetworkFile:   tinyWeights(4, 3),
	}
	if mutate != nil {
		mutate(files)
	}

	names := "URLLength\nIsHTTPS\nHasTitle\n"
	if err := os.WriteFile(filepath.Join(dir, FeatureNamesFile), []byte(names), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, doc := range files {
		data, err := json.Marshal(doc)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}
