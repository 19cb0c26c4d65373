package inference

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// InitONNX loads the onnxruntime shared library and creates the process
// environment. Call it once before LoadBundle with the onnx backend.
func InitONNX(libPath string) error {
	ort.SetSharedLibraryPath(libPath)

	err := ort.InitializeEnvironment()
	if err != nil {
		return fmt.Errorf("failed to initialize onnx environment: %w", err)
	}
	return nil
}

func CleanupONNX() {
	ort.DestroyEnvironment()
}

// ONNXNames are the graph's tensor names.
type ONNXNames struct {
	URLInput string
	NumInput string
	Output   string
}

// ONNXModel runs the exported hybrid network with onnxruntime.
type ONNXModel struct {
	session     *ort.DynamicAdvancedSession
	maxLen      int
	numFeatures int
}

// NewONNXModel opens modelPath and checks that its declared input shapes
// agree with the sequence length and feature count. Dynamic dimensions are
// accepted as-is.
func NewONNXModel(modelPath string, names ONNXNames, maxLen, numFeatures int) (*ONNXModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect onnx model: %w", err)
	}

	want := map[string]int{names.URLInput: maxLen, names.NumInput: numFeatures}
	for _, info := range inputs {
		size, ok := want[info.Name]
		if !ok {
			continue
		}
		delete(want, info.Name)
		if len(info.Dimensions) != 2 {
			return nil, fmt.Errorf("%w: input %q has rank %d, want 2", ErrIntegrity, info.Name, len(info.Dimensions))
		}
		if d := info.Dimensions[1]; d > 0 && int(d) != size {
			return nil, fmt.Errorf("%w: input %q is declared with %d columns, want %d", ErrIntegrity, info.Name, d, size)
		}
	}
	for name := range want {
		return nil, fmt.Errorf("%w: model has no input named %q", ErrIntegrity, name)
	}

	found := false
	for _, info := range outputs {
		if info.Name == names.Output {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: model has no output named %q", ErrIntegrity, names.Output)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{names.URLInput, names.NumInput},
		[]string{names.Output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load onnx model: %w", err)
	}

	return &ONNXModel{session: session, maxLen: maxLen, numFeatures: numFeatures}, nil
}

func (m *ONNXModel) Predict(tokens []int32, numeric []float64) (float64, error) {
	if len(tokens) != m.maxLen {
		return 0, fmt.Errorf("%w: got %d tokens, model expects %d", ErrDimension, len(tokens), m.maxLen)
	}
	if len(numeric) != m.numFeatures {
		return 0, fmt.Errorf("%w: got %d numeric features, model expects %d", ErrDimension, len(numeric), m.numFeatures)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// Keras exports both inputs as float32.
	urlData := make([]float32, len(tokens))
	for i, t := range tokens {
		urlData[i] = float32(t)
	}
	numData := make([]float32, len(numeric))
	for i, v := range numeric {
		numData[i] = float32(v)
	}

	urlTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(urlData))), urlData)
	if err != nil {
		return 0, fmt.Errorf("url tensor creation failed: %w", err)
	}
	defer urlTensor.Destroy()

	numTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(numData))), numData)
	if err != nil {
		return 0, fmt.Errorf("numeric tensor creation failed: %w", err)
	}
	defer numTensor.Destroy()

	outTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("output tensor creation failed: %w", err)
	}
	defer outTensor.Destroy()

	err = m.session.Run(
		[]ort.Value{urlTensor, numTensor},
		[]ort.Value{outTensor},
	)
	if err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}

	return float64(outTensor.GetData()[0]), nil
}

func (m *ONNXModel) Close() error {
	if m.session != nil {
		return m.session.Destroy()
	}
	return nil
}
