package inference

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"phishguard/internal/features"
)

// Artifact file names inside the model directory.
const (
	FeatureNamesFile = "feature_names.txt"
	TokenizerFile    = "tokenizer.json"
	ScalerFile       = "scaler.json"
	NetworkFile      = "model.json"
	ONNXFile         = "model.onnx"
)

const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

type BundleConfig struct {
	Backend string
	MaxLen  int
	Names   ONNXNames
}

// Bundle holds every artifact needed to score a URL. It is built once at
// startup and never mutated, so it is safe to share between goroutines.
type Bundle struct {
	Schema    *features.Schema
	Tokenizer *Tokenizer
	Scaler    *Scaler
	Model     Model
}

// LoadBundle reads the artifacts from dir and cross-checks their
// dimensions. Any inconsistency is reported as ErrIntegrity.
func LoadBundle(dir string, cfg BundleConfig) (*Bundle, error) {
	b := &Bundle{}

	err := readArtifact(dir, FeatureNamesFile, func(r io.Reader) (err error) {
		b.Schema, err = features.ReadSchema(r)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = readArtifact(dir, TokenizerFile, func(r io.Reader) (err error) {
		b.Tokenizer, err = LoadTokenizer(r, cfg.MaxLen)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = readArtifact(dir, ScalerFile, func(r io.Reader) (err error) {
		b.Scaler, err = LoadScaler(r)
		return err
	})
	if err != nil {
		return nil, err
	}

	n := b.Schema.Len()
	if b.Scaler.Len() != n {
		return nil, fmt.Errorf("%w: scaler has %d entries, schema has %d", ErrIntegrity, b.Scaler.Len(), n)
	}

	switch cfg.Backend {
	case BackendNative, "":
		var net *Network
		err = readArtifact(dir, NetworkFile, func(r io.Reader) (err error) {
			net, err = LoadNetwork(r)
			return err
		})
		if err != nil {
			return nil, err
		}
		if err := checkNetwork(net, b.Tokenizer, n); err != nil {
			return nil, err
		}
		b.Model = net

	case BackendONNX:
		m, err := NewONNXModel(filepath.Join(dir, ONNXFile), cfg.Names, b.Tokenizer.MaxLen(), n)
		if err != nil {
			return nil, err
		}
		b.Model = m

	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}

	return b, nil
}

func checkNetwork(net *Network, tok *Tokenizer, numFeatures int) error {
	if net.NumFeatures() != numFeatures {
		return fmt.Errorf("%w: model takes %d numeric features, schema has %d", ErrIntegrity, net.NumFeatures(), numFeatures)
	}
	if net.MaxLen() != tok.MaxLen() {
		return fmt.Errorf("%w: model sequence length %d, tokenizer pads to %d", ErrIntegrity, net.MaxLen(), tok.MaxLen())
	}
	if int(tok.MaxCode()) >= net.VocabRows() {
		return fmt.Errorf("%w: vocabulary code %d exceeds embedding rows %d", ErrIntegrity, tok.MaxCode(), net.VocabRows())
	}
	return nil
}

func readArtifact(dir, name string, parse func(io.Reader) error) error {
	path := filepath.Join(dir, name)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer file.Close()

	if err := parse(file); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Close releases runtime resources held by the model, if any.
func (b *Bundle) Close() error {
	if c, ok := b.Model.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
