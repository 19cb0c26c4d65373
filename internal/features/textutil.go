package features

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// similarity is the case-insensitive difflib.SequenceMatcher ratio over
// characters, autojunk included. Either side empty yields 0.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	m := difflib.NewMatcher(runeStrings(strings.ToLower(a)), runeStrings(strings.ToLower(b)))
	return m.Ratio()
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// shannonEntropy in bits per character.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	ent := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		ent -= p * math.Log2(p)
	}
	return ent
}

// charProbability is 1 minus the entropy normalized by the maximum
// entropy for the distinct characters seen, floored at 0.
func charProbability(s string) float64 {
	distinct := make(map[rune]struct{})
	for _, r := range s {
		distinct[r] = struct{}{}
	}
	norm := shannonEntropy(s) / math.Log2(math.Max(float64(len(distinct)), 2))
	return math.Max(0, 1-norm)
}

// continuationRate is the share of s made of runs of one repeated
// character of length two or more.
func continuationRate(s string) float64 {
	consumed, run := 0, 0
	var prev rune
	for i, r := range []rune(s) {
		if i > 0 && r == prev {
			run++
		} else {
			if run >= 2 {
				consumed += run
			}
			run = 1
		}
		prev = r
	}
	if run >= 2 {
		consumed += run
	}
	return float64(consumed) / (float64(utf8.RuneCountInString(s)) + ratioEpsilon)
}

// lineStats splits on the universal newline set (\r\n, \n, \r, \v, \f,
// \x1c-\x1e, \x85, U+2028, U+2029). A trailing break does not open a line.
func lineStats(s string) (lines, longest int) {
	cur := 0
	open := false
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if isLineBreak(r) {
			if r == '\r' && i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			lines++
			if cur > longest {
				longest = cur
			}
			cur, open = 0, false
			continue
		}
		cur++
		open = true
	}
	if open {
		lines++
		if cur > longest {
			longest = cur
		}
	}
	return lines, longest
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', 0x1c, 0x1d, 0x1e, 0x85, 0x2028, 0x2029:
		return true
	}
	return false
}
