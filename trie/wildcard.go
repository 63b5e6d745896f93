package trie

import (
	"time"

	"github.com/distquery/coordinator/runeutil"
)

// MatchKind classifies how far a wildcard pattern has matched the
// string consumed so far.
type MatchKind int

const (
	NoMatch MatchKind = iota
	PartialMatch
	FullMatch
)

// TrimPattern normalizes a wildcard pattern: every maximal run of '*' and
// '?' characters collapses to the run's '?' count followed by a single
// '*' if the run contained one. This both dedupes consecutive '*' and
// reorders '*?' to '?*' in one pass, so a run like "*?*" becomes "?*"
// and a later, newly-adjacent run of stars created by that reordering
// (e.g. the tail of "foo**?" after the '?' moves left) is still
// collapsed rather than left as "**". TrimPattern(p) matches exactly
// the same strings p does.
func TrimPattern(pattern []rune) []rune {
	out := make([]rune, 0, len(pattern))
	for i := 0; i < len(pattern); {
		if pattern[i] != '*' && pattern[i] != '?' {
			out = append(out, pattern[i])
			i++
			continue
		}
		questions, star := 0, false
		for i < len(pattern) && (pattern[i] == '*' || pattern[i] == '?') {
			if pattern[i] == '*' {
				star = true
			} else {
				questions++
			}
			i++
		}
		for ; questions > 0; questions-- {
			out = append(out, '?')
		}
		if star {
			out = append(out, '*')
		}
	}
	return out
}

// closure expands active pattern position s with the epsilon moves "*"
// implies: a "*" may be skipped (matching zero runes) as well as looped
// on (matching more), so reaching a "*" also activates the position
// after it.
func closure(pattern []rune, s int, out map[int]bool) {
	if out[s] {
		return
	}
	out[s] = true
	if s < len(pattern) && pattern[s] == '*' {
		closure(pattern, s+1, out)
	}
}

func closureSet(pattern []rune, s int) map[int]bool {
	out := map[int]bool{}
	closure(pattern, s, out)
	return out
}

// stepSet advances every active pattern position by consuming rune r,
// implementing the small NFA "?" (exactly one rune) and "*" (self-loop)
// transitions over a wildcard pattern.
func stepSet(pattern []rune, active map[int]bool, r rune) map[int]bool {
	next := map[int]bool{}
	folded := runeutil.Fold(r)
	for s := range active {
		if s >= len(pattern) {
			continue
		}
		switch p := pattern[s]; {
		case p == '*':
			closure(pattern, s, next)
		case p == '?':
			closure(pattern, s+1, next)
		default:
			if runeutil.Fold(p) == folded {
				closure(pattern, s+1, next)
			}
		}
	}
	return next
}

func classify(active map[int]bool, patternLen int) MatchKind {
	if len(active) == 0 {
		return NoMatch
	}
	if active[patternLen] {
		return FullMatch
	}
	return PartialMatch
}

func hasTrailingStar(pattern []rune) bool {
	return len(pattern) > 0 && pattern[len(pattern)-1] == '*'
}

// WildcardIterate returns every live key matching pattern ('?' = one
// rune, '*' = zero or more), case-folded.
func (t *Trie) WildcardIterate(pattern []rune, deadline time.Time) []Entry {
	trimmed := TrimPattern(pattern)
	initial := closureSet(trimmed, 0)
	var out []Entry
	state := newWalkState(deadline)
	wildcardWalk(t.root, nil, trimmed, initial, state, &out)
	return out
}

func wildcardWalk(node *Node, prefix []rune, pattern []rune, active map[int]bool, state *walkState, out *[]Entry) {
	if node == nil || state.tick() {
		return
	}

	cur := active
	full := cloneRunes(prefix)
	for i, r := range node.Str {
		cur = stepSet(pattern, cur, r)
		if classify(cur, len(pattern)) == NoMatch {
			return
		}
		full = append(full, r)

		if hasTrailingStar(pattern) && cur[len(pattern)] {
			virtual := &Node{
				Str: node.Str[i+1:], Children: node.Children,
				Score: node.Score, Payload: node.Payload,
				Terminal: node.Terminal, Deleted: node.Deleted,
			}
			collectAll(virtual, full, minusInf, state, out)
			return
		}
	}

	if node.Terminal && !node.Deleted && classify(cur, len(pattern)) == FullMatch {
		*out = append(*out, Entry{Key: cloneRunes(full), Score: node.Score, Payload: node.Payload})
	}
	for _, c := range node.Children {
		wildcardWalk(c, full, pattern, cur, state, out)
	}
}
