package features

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MissingValue is substituted for every schema slot neither extractor set.
const MissingValue = 0.0

var ErrSchema = errors.New("invalid feature schema")

// Schema is the ordered feature list a model was trained on. The
// name-to-feature table is resolved once here, not per request.
type Schema struct {
	names []string
	slots []ID
}

func NewSchema(names []string) (*Schema, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no feature names", ErrSchema)
	}

	s := &Schema{
		names: make([]string, len(names)),
		slots: make([]ID, len(names)),
	}
	seen := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: blank name at position %d", ErrSchema, i)
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %q listed at positions %d and %d", ErrSchema, name, prev, i)
		}
		seen[name] = i

		s.names[i] = name
		if id, ok := Lookup(name); ok {
			s.slots[i] = id
		} else {
			s.slots[i] = -1
		}
	}
	return s, nil
}

// ReadSchema parses feature_names.txt: one name per line, blank lines ignored.
func ReadSchema(r io.Reader) (*Schema, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read feature names: %w", err)
	}
	return NewSchema(names)
}

func (s *Schema) Len() int { return len(s.names) }

func (s *Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Unknown lists schema names no extractor produces; those slots are always
// MissingValue.
func (s *Schema) Unknown() []string {
	var out []string
	for i, id := range s.slots {
		if id < 0 {
			out = append(out, s.names[i])
		}
	}
	return out
}

// Build lays the extracted features out in schema order. Structural values
// win over lexical ones for the same feature.
func (s *Schema) Build(lexical, structural Partial) []float64 {
	vec := make([]float64, len(s.slots))
	for i, id := range s.slots {
		vec[i] = resolve(id, &lexical, &structural)
	}
	return vec
}

func resolve(id ID, lexical, structural *Partial) float64 {
	if v, ok := structural.Get(id); ok {
		return v
	}
	if v, ok := lexical.Get(id); ok {
		return v
	}
	return MissingValue
}
