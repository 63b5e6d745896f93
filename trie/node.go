// Package trie implements a compressed, rune-keyed radix trie supporting
// exact lookup, prefix enumeration, Levenshtein-automaton fuzzy match,
// lexicographic range scan, contains/suffix search, wildcard iteration,
// and a random-walk sample used by RANDOMKEY.
package trie

import "sort"

// SortMode controls the order children are kept in, and therefore which
// kinds of scan a Trie supports efficiently.
type SortMode int

const (
	// SortScore orders children by descending max child score (ties by
	// rune), letting iterators prune subtrees below a score threshold.
	SortScore SortMode = iota
	// SortLex orders children by rune value, enabling range scans.
	SortLex
)

// AddOp controls how Insert combines a new score with an existing one.
type AddOp int

const (
	AddReplace AddOp = iota
	AddIncr
	AddMax
)

// Node is a compressed radix node: it owns a run of runes shared by every
// key passing through it, plus children keyed by their first rune.
//
// Invariants, maintained by Insert/Delete:
//  1. no two children share the same first rune;
//  2. MaxChildScore == max(Score, max(child.MaxChildScore));
//  3. Children are sorted per the trie's SortMode after every mutation.
type Node struct {
	Str           []rune
	Children      []*Node
	Score         float32
	MaxChildScore float32
	Payload       []byte
	Terminal      bool
	Deleted       bool
}

func cloneRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	copy(out, rs)
	return out
}

func commonPrefixLen(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func findChildIndex(node *Node, first rune) int {
	for i, c := range node.Children {
		if len(c.Str) > 0 && c.Str[0] == first {
			return i
		}
	}
	return -1
}

func sortChildren(children []*Node, mode SortMode) {
	sort.Slice(children, func(i, j int) bool {
		a, b := children[i], children[j]
		var aRune, bRune rune
		if len(a.Str) > 0 {
			aRune = a.Str[0]
		}
		if len(b.Str) > 0 {
			bRune = b.Str[0]
		}
		if mode == SortLex {
			return aRune < bRune
		}
		if a.MaxChildScore != b.MaxChildScore {
			return a.MaxChildScore > b.MaxChildScore
		}
		return aRune < bRune
	})
}

func recomputeMaxChildScore(node *Node) {
	max := node.Score
	for _, c := range node.Children {
		if c.MaxChildScore > max {
			max = c.MaxChildScore
		}
	}
	node.MaxChildScore = max
}

func applyOp(node *Node, score float32, op AddOp) {
	switch op {
	case AddIncr:
		node.Score += score
	case AddMax:
		if score > node.Score {
			node.Score = score
		}
	default: // AddReplace
		node.Score = score
	}
}
