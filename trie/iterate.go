package trie

import (
	"strings"
	"time"
)

// walkState threads the 100-node timeout cadence, and the count of
// visited nodes it is based on, through every scan.
type walkState struct {
	deadline   time.Time
	nodeCount  int
	timedOut   bool
	hasDead    bool
}

func newWalkState(deadline time.Time) *walkState {
	return &walkState{deadline: deadline, hasDead: !deadline.IsZero()}
}

// tick is called once per visited node; every 100th call it re-checks the
// deadline, matching the spec's timeout cadence.
func (w *walkState) tick() bool {
	if w.timedOut {
		return true
	}
	w.nodeCount++
	if w.hasDead && w.nodeCount%100 == 0 && time.Now().After(w.deadline) {
		w.timedOut = true
	}
	return w.timedOut
}

// collectAll walks the full subtree rooted at node, appending every live
// terminal whose node (or an ancestor) clears minScore via MaxChildScore
// pruning, prefixed with prefix, into out.
func collectAll(node *Node, prefix []rune, minScore float32, state *walkState, out *[]Entry) {
	if node == nil || state.tick() {
		return
	}
	if node.MaxChildScore < minScore {
		return
	}

	full := append(cloneRunes(prefix), node.Str...)
	if node.Terminal && !node.Deleted && node.Score >= minScore {
		*out = append(*out, Entry{Key: cloneRunes(full), Score: node.Score, Payload: node.Payload})
	}
	for _, c := range node.Children {
		collectAll(c, full, minScore, state, out)
	}
}

// PrefixIterate returns every live key with the given prefix, in trie
// order, honoring minScore pruning and deadline.
func (t *Trie) PrefixIterate(prefix []rune, minScore float32, deadline time.Time) []Entry {
	node, ancestorPath := descend(t.root, prefix)
	if node == nil {
		return nil
	}
	var out []Entry
	state := newWalkState(deadline)
	collectAll(node, ancestorPath, minScore, state, &out)
	return out
}

// descend walks from node along key, returning the deepest node whose
// subtree holds every key prefixed by key, and the accumulated path of
// ancestor runes leading to (but not including) that node's own Str.
func descend(node *Node, key []rune) (*Node, []rune) {
	var ancestorPath []rune
	for {
		cp := commonPrefixLen(node.Str, key)
		key = key[cp:]
		if len(key) == 0 {
			return node, ancestorPath
		}
		if cp != len(node.Str) {
			return nil, nil
		}
		idx := findChildIndex(node, key[0])
		if idx < 0 {
			return nil, nil
		}
		ancestorPath = append(cloneRunes(ancestorPath), node.Str...)
		node = node.Children[idx]
	}
}

// RangeIterate returns every live key within [min, max] (bounds
// inclusive per minIncl/maxIncl). It walks the whole trie without
// pruning; keys come out in ascending rune order on a SortLex trie and in
// child order on a SortScore trie.
func (t *Trie) RangeIterate(min, max []rune, minIncl, maxIncl bool, deadline time.Time) []Entry {
	var out []Entry
	state := newWalkState(deadline)
	rangeWalk(t.root, nil, min, max, minIncl, maxIncl, state, &out)
	return out
}

func rangeWalk(node *Node, prefix, min, max []rune, minIncl, maxIncl bool, state *walkState, out *[]Entry) {
	if node == nil || state.tick() {
		return
	}
	full := append(cloneRunes(prefix), node.Str...)

	if node.Terminal && !node.Deleted {
		if inRange(full, min, max, minIncl, maxIncl) {
			*out = append(*out, Entry{Key: cloneRunes(full), Score: node.Score, Payload: node.Payload})
		}
	}
	for _, c := range node.Children {
		rangeWalk(c, full, min, max, minIncl, maxIncl, state, out)
	}
}

func inRange(key, min, max []rune, minIncl, maxIncl bool) bool {
	if min != nil {
		c := compareRunes(key, min)
		if c < 0 || (c == 0 && !minIncl) {
			return false
		}
	}
	if max != nil {
		c := compareRunes(key, max)
		if c > 0 || (c == 0 && !maxIncl) {
			return false
		}
	}
	return true
}

func compareRunes(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// Contains returns every live key containing pattern as a substring
// (suffixOnly restricts this to keys ending with pattern).
func (t *Trie) Contains(pattern []rune, suffixOnly bool, deadline time.Time) []Entry {
	var all []Entry
	collectAll(t.root, nil, minusInf, newWalkState(deadline), &all)

	pat := string(pattern)
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		key := string(e.Key)
		if suffixOnly {
			if strings.HasSuffix(key, pat) {
				out = append(out, e)
			}
		} else if strings.Contains(key, pat) {
			out = append(out, e)
		}
	}
	return out
}

const minusInf = float32(-1 << 30)
