package examauditor

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Signature is a normalized, order-insensitive token representation of text.
// Two questions with the same signature are near-certain duplicates.
type Signature string

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldAccents(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		return s
	}
	return folded
}

// tokenize lowercases, folds accents, strips punctuation and splits into tokens.
func tokenize(text string) []string {
	folded := foldAccents(strings.ToLower(text))
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Fields(mapped)
}

// Normalize reduces text to its signature: a sorted token multiset. It is
// idempotent: Normalize(string(Normalize(x))) == Normalize(x).
func Normalize(text string) Signature {
	tokens := tokenize(text)
	sort.Strings(tokens)
	return Signature(strings.Join(tokens, " "))
}

// Canonical is the order-preserving counterpart of Normalize, used for fuzzy
// comparison where token order still matters.
func Canonical(text string) string {
	return strings.Join(tokenize(text), " ")
}

// FuzzyRatio returns a normalized edit-distance similarity in [0,1].
// 1 means identical, 0 means nothing in common.
func FuzzyRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	ar := []rune(a)
	br := []rune(b)
	longest := len(ar)
	if len(br) > longest {
		longest = len(br)
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein(ar, br)
	ratio := 1 - float64(dist)/float64(longest)
	if ratio < 0 {
		return 0
	}
	return ratio
}

func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range a {
		curr[0] = i + 1
		for j, cb := range b {
			ins := curr[j] + 1
			del := prev[j+1] + 1
			sub := prev[j]
			if ca != cb {
				sub++
			}
			curr[j+1] = min3(ins, del, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
