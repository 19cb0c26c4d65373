package inference

import (
	"fmt"
	"io"
	"math"

	"github.com/goccy/go-json"
)

// Scaler standardizes numeric features with the statistics computed at
// training time.
type Scaler struct {
	mean  []float64
	scale []float64
}

type scalerFile struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// NewScaler copies its inputs. A zero or non-finite std is replaced by 1 so
// the slot is only centered.
func NewScaler(mean, scale []float64) (*Scaler, error) {
	if len(mean) == 0 || len(mean) != len(scale) {
		return nil, fmt.Errorf("%w: scaler has %d means and %d scales", ErrIntegrity, len(mean), len(scale))
	}
	s := &Scaler{mean: make([]float64, len(mean)), scale: make([]float64, len(scale))}
	for i := range mean {
		if math.IsNaN(mean[i]) || math.IsInf(mean[i], 0) {
			return nil, fmt.Errorf("%w: scaler mean %d is not finite", ErrIntegrity, i)
		}
		s.mean[i] = mean[i]

		sd := scale[i]
		if sd == 0 || math.IsNaN(sd) || math.IsInf(sd, 0) {
			sd = 1
		}
		s.scale[i] = sd
	}
	return s, nil
}

func LoadScaler(r io.Reader) (*Scaler, error) {
	var file scalerFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	return NewScaler(file.Mean, file.Scale)
}

func (s *Scaler) Len() int { return len(s.mean) }

func (s *Scaler) Transform(vec []float64) ([]float64, error) {
	if len(vec) != len(s.mean) {
		return nil, fmt.Errorf("%w: scaler expects %d features, got %d", ErrDimension, len(s.mean), len(vec))
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = (v - s.mean[i]) / s.scale[i]
	}
	return out, nil
}
