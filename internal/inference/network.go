package inference

import (
	"fmt"
	"io"
	"math"

	"github.com/goccy/go-json"
)

// DenseWeights follows the Keras layout: Kernel[in][out].
type DenseWeights struct {
	Kernel [][]float64 `json:"kernel"`
	Bias   []float64   `json:"bias"`
}

// ConvWeights follows the Keras Conv1D layout: Kernel[width][in][filters].
type ConvWeights struct {
	Kernel [][][]float64 `json:"kernel"`
	Bias   []float64     `json:"bias"`
}

// NetworkWeights is the model.json document exported from the trained
// hybrid network.
type NetworkWeights struct {
	MaxLen      int          `json:"max_len"`
	NumFeatures int          `json:"num_features"`
	Embedding   [][]float64  `json:"embedding"`
	Conv        ConvWeights  `json:"conv"`
	Numeric     DenseWeights `json:"numeric_dense"`
	Hidden      DenseWeights `json:"hidden_dense"`
	Output      DenseWeights `json:"output_dense"`
}

type dense struct {
	in, out int
	w       []float64 // row-major [in][out]
	b       []float64
}

// Network is the pure Go forward pass of the two-branch classifier:
// Embedding, Conv1D(valid, ReLU) and global max pooling on the URL tokens;
// Dense(ReLU) on the numeric features; then Dense(ReLU) and a sigmoid unit
// over the concatenation. Dropout layers are inference no-ops.
type Network struct {
	maxLen   int
	embedDim int
	vocab    int
	embed    []float64 // [vocab][embedDim]

	width   int
	filters int
	conv    []float64 // [width][embedDim][filters]
	convB   []float64

	numeric dense
	hidden  dense
	output  dense
}

func LoadNetwork(r io.Reader) (*Network, error) {
	var w NetworkWeights
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode network weights: %w", err)
	}
	return NewNetwork(w)
}

func NewNetwork(w NetworkWeights) (*Network, error) {
	n := &Network{maxLen: w.MaxLen}
	if w.MaxLen <= 0 {
		return nil, fmt.Errorf("%w: max_len must be positive", ErrIntegrity)
	}

	var err error
	if n.embed, n.vocab, n.embedDim, err = flatten2(w.Embedding); err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}

	n.width = len(w.Conv.Kernel)
	if n.width == 0 || n.width > w.MaxLen {
		return nil, fmt.Errorf("%w: conv width %d does not fit sequence length %d", ErrIntegrity, n.width, w.MaxLen)
	}
	for j, tap := range w.Conv.Kernel {
		flat, in, filters, err := flatten2(tap)
		if err != nil {
			return nil, fmt.Errorf("conv tap %d: %w", j, err)
		}
		if in != n.embedDim {
			return nil, fmt.Errorf("%w: conv tap %d expects %d channels, embedding has %d", ErrIntegrity, j, in, n.embedDim)
		}
		if j > 0 && filters != n.filters {
			return nil, fmt.Errorf("%w: conv tap %d has %d filters, want %d", ErrIntegrity, j, filters, n.filters)
		}
		n.filters = filters
		n.conv = append(n.conv, flat...)
	}
	if len(w.Conv.Bias) != n.filters {
		return nil, fmt.Errorf("%w: conv bias has %d entries, want %d", ErrIntegrity, len(w.Conv.Bias), n.filters)
	}
	n.convB = w.Conv.Bias

	if n.numeric, err = newDense(w.Numeric); err != nil {
		return nil, fmt.Errorf("numeric dense: %w", err)
	}
	if w.NumFeatures != 0 && w.NumFeatures != n.numeric.in {
		return nil, fmt.Errorf("%w: num_features %d but numeric kernel has %d rows", ErrIntegrity, w.NumFeatures, n.numeric.in)
	}
	if n.hidden, err = newDense(w.Hidden); err != nil {
		return nil, fmt.Errorf("hidden dense: %w", err)
	}
	if n.hidden.in != n.filters+n.numeric.out {
		return nil, fmt.Errorf("%w: hidden layer takes %d inputs, branches produce %d", ErrIntegrity, n.hidden.in, n.filters+n.numeric.out)
	}
	if n.output, err = newDense(w.Output); err != nil {
		return nil, fmt.Errorf("output dense: %w", err)
	}
	if n.output.in != n.hidden.out || n.output.out != 1 {
		return nil, fmt.Errorf("%w: output layer is %dx%d, want %dx1", ErrIntegrity, n.output.in, n.output.out, n.hidden.out)
	}
	return n, nil
}

func newDense(w DenseWeights) (dense, error) {
	flat, in, out, err := flatten2(w.Kernel)
	if err != nil {
		return dense{}, err
	}
	if len(w.Bias) != out {
		return dense{}, fmt.Errorf("%w: bias has %d entries, kernel has %d outputs", ErrIntegrity, len(w.Bias), out)
	}
	return dense{in: in, out: out, w: flat, b: w.Bias}, nil
}

// flatten2 checks that m is a non-empty rectangle and returns it row-major.
func flatten2(m [][]float64) ([]float64, int, int, error) {
	if len(m) == 0 || len(m[0]) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: empty matrix", ErrIntegrity)
	}
	rows, cols := len(m), len(m[0])
	flat := make([]float64, 0, rows*cols)
	for i, row := range m {
		if len(row) != cols {
			return nil, 0, 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrIntegrity, i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return flat, rows, cols, nil
}

func (n *Network) MaxLen() int      { return n.maxLen }
func (n *Network) NumFeatures() int { return n.numeric.in }

// VocabRows is the number of embedding rows; valid token codes are below it.
func (n *Network) VocabRows() int { return n.vocab }

func (n *Network) Predict(tokens []int32, numeric []float64) (float64, error) {
	if len(tokens) != n.maxLen {
		return 0, fmt.Errorf("%w: got %d tokens, model expects %d", ErrDimension, len(tokens), n.maxLen)
	}
	if len(numeric) != n.numeric.in {
		return 0, fmt.Errorf("%w: got %d numeric features, model expects %d", ErrDimension, len(numeric), n.numeric.in)
	}

	// URL branch.
	seq := make([]float64, n.maxLen*n.embedDim)
	for t, code := range tokens {
		if code < 0 || int(code) >= n.vocab {
			return 0, fmt.Errorf("%w: token %d outside embedding table of %d rows", ErrDimension, code, n.vocab)
		}
		copy(seq[t*n.embedDim:(t+1)*n.embedDim], n.embed[int(code)*n.embedDim:])
	}

	merged := make([]float64, n.filters+n.numeric.out)
	pooled := merged[:n.filters]
	for f := range pooled {
		pooled[f] = math.Inf(-1)
	}
	acc := make([]float64, n.filters)
	for p := 0; p+n.width <= n.maxLen; p++ {
		copy(acc, n.convB)
		for j := 0; j < n.width; j++ {
			x := seq[(p+j)*n.embedDim : (p+j+1)*n.embedDim]
			k := n.conv[j*n.embedDim*n.filters:]
			for c, xv := range x {
				if xv == 0 {
					continue
				}
				row := k[c*n.filters : (c+1)*n.filters]
				for f, wv := range row {
					acc[f] += xv * wv
				}
			}
		}
		for f, v := range acc {
			if v = relu(v); v > pooled[f] {
				pooled[f] = v
			}
		}
	}

	// Numeric branch, concatenated after the pooled URL features.
	n.numeric.apply(numeric, merged[n.filters:], relu)

	hidden := make([]float64, n.hidden.out)
	n.hidden.apply(merged, hidden, relu)

	out := make([]float64, 1)
	n.output.apply(hidden, out, sigmoid)
	return out[0], nil
}

func (d *dense) apply(in, out []float64, act func(float64) float64) {
	copy(out, d.b)
	for i, x := range in {
		if x == 0 {
			continue
		}
		row := d.w[i*d.out : (i+1)*d.out]
		for o, w := range row {
			out[o] += x * w
		}
	}
	for o := range out {
		out[o] = act(out[o])
	}
}

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
