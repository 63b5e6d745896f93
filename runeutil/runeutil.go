// Package runeutil decodes UTF-8 text into fixed-width code points and
// case-folds runes for the trie's matching routines.
package runeutil

import (
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// folder performs Unicode case-folding the same way for every caller;
// cases.Fold() is stateless and safe for concurrent use.
var folder = cases.Fold()

// Decode converts UTF-8 bytes into a slice of runes. Invalid byte sequences
// are decoded as utf8.RuneError, one rune per bad byte, matching
// utf8.DecodeRune's own recovery behavior so trie keys built from malformed
// input are still stable and comparable.
func Decode(s []byte) []rune {
	out := make([]rune, 0, len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRune(s)
		out = append(out, r)
		s = s[size:]
	}
	return out
}

// DecodeString is Decode for a string argument.
func DecodeString(s string) []rune {
	return Decode([]byte(s))
}

// Encode renders runes back to UTF-8 bytes.
func Encode(rs []rune) []byte {
	buf := make([]byte, 0, len(rs)*utf8.UTFMax)
	var tmp [utf8.UTFMax]byte
	for _, r := range rs {
		n := utf8.EncodeRune(tmp[:], r)
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

// Fold case-folds a single rune for matching. Folding is done rune-by-rune
// because the trie and DFA operate on individual code points, not whole
// strings; a handful of Unicode folds are context-sensitive (e.g. the Greek
// sigma) and will not round-trip through per-rune folding, which is an
// accepted approximation for prefix/fuzzy search rather than full text
// normalization.
func Fold(r rune) rune {
	folded := string(folder.Bytes([]byte(string(r))))
	rr, _ := utf8.DecodeRuneInString(folded)
	return rr
}

// FoldAll case-folds every rune in rs, returning a new slice.
func FoldAll(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = Fold(r)
	}
	return out
}
