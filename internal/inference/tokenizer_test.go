package inference

import (
	"errors"
	"strings"
	"testing"
)

func TestTokenizer_Encode(t *testing.T) {
	tok, err := NewTokenizer(map[rune]int32{'h': 1, 't': 2, 'p': 3, 'A': 4}, false, 6)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		in   string
		want []int32
	}{
		{"", []int32{0, 0, 0, 0, 0, 0}},
		{"http", []int32{1, 2, 2, 3, 0, 0}},
		{"httphttp", []int32{1, 2, 2, 3, 1, 2}},
		{"hAa?", []int32{1, 4, 0, 0, 0, 0}}, // case-sensitive, unknown -> 0
	}
	for _, tc := range tests {
		got := tok.Encode(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("Encode(%q) length %d, want %d", tc.in, len(got), len(tc.want))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("Encode(%q) = %v, want %v", tc.in, got, tc.want)
				break
			}
		}
	}
}

func TestTokenizer_LongURLKeepsPrefix(t *testing.T) {
	tok, err := LoadTokenizer(strings.NewReader(`{"word_index": {"a": 1, "b": 2}}`), 150)
	if err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("ab", 100) // 200 characters
	got := tok.Encode(long)
	want := tok.Encode(long[:150])
	if len(got) != 150 {
		t.Fatalf("expected 150 codes, got %d", len(got))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("position %d: %d != %d", i, got[i], want[i])
		}
	}
}

func TestTokenizer_LowerFlag(t *testing.T) {
	tok, err := LoadTokenizer(strings.NewReader(`{"word_index": {"x": 7}, "lower": true}`), 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := tok.Encode("X"); got[0] != 7 {
		t.Errorf("lower-casing tokenizer should map X to 7, got %v", got)
	}
	if tok.MaxCode() != 7 {
		t.Errorf("MaxCode = %d, want 7", tok.MaxCode())
	}
}

func TestLoadTokenizer_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty vocabulary": `{"word_index": {}}`,
		"multi-char key":   `{"word_index": {"ab": 1}}`,
		"padding code":     `{"word_index": {"a": 0}}`,
	}
	for name, doc := range cases {
		if _, err := LoadTokenizer(strings.NewReader(doc), 10); !errors.Is(err, ErrIntegrity) {
			t.Errorf("%s: expected ErrIntegrity, got %v", name, err)
		}
	}
	if _, err := LoadTokenizer(strings.NewReader(`not json`), 10); err == nil {
		t.Error("expected decode error")
	}
}

// Run with: go test -fuzz=FuzzTokenizerEncode ./internal/inference
func FuzzTokenizerEncode(f *testing.F) {
	tok, err := NewTokenizer(map[rune]int32{'a': 1, '/': 2, 'é': 3}, false, 150)
	if err != nil {
		f.Fatal(err)
	}
	f.Add("https://example.com/")
	f.Add("")
	f.Add(strings.Repeat("é", 300))

	f.Fuzz(func(t *testing.T, raw string) {
		seq := tok.Encode(raw)
		if len(seq) != 150 {
			t.Fatalf("length %d for %q", len(seq), raw)
		}
		for _, c := range seq {
			if c < 0 || c > tok.MaxCode() {
				t.Fatalf("code %d out of range", c)
			}
		}
	})
}
