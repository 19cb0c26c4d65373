package inference

import "errors"

var (
	// ErrIntegrity marks an artifact bundle whose parts disagree with each other.
	ErrIntegrity = errors.New("artifact integrity check failed")
	// ErrDimension marks an input whose shape does not match the loaded model.
	ErrDimension = errors.New("input dimension mismatch")
)

// Model scores one URL from its token sequence and scaled numeric features.
// The result is the probability that the URL is safe.
type Model interface {
	Predict(tokens []int32, numeric []float64) (float64, error)
}
