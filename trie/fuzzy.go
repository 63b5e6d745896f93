package trie

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/distquery/coordinator/runeutil"
)

// dfaNode is one state of a Levenshtein automaton, lowered from the
// sparse NFA row it was built from: an edit-distance vector for the
// query term, plus memoized transitions so structurally identical trie
// paths reuse the same automaton state instead of recomputing rows.
type dfaNode struct {
	row      []int
	trans    map[rune]*dfaNode
	fallback *dfaNode
}

func (n *dfaNode) distance(queryLen int) int { return n.row[queryLen] }

func (n *dfaNode) isDead(maxEdits int) bool {
	min := n.row[0]
	for _, v := range n.row {
		if v < min {
			min = v
		}
	}
	return min > maxEdits
}

// automaton builds and caches the Levenshtein automaton for one query
// term at a fixed edit-distance bound.
type automaton struct {
	query     []rune // already case-folded
	maxEdits  int
	alphabet  map[rune]bool
	nodeCache map[string]*dfaNode
}

func newAutomaton(query []rune, maxEdits int) *automaton {
	folded := runeutil.FoldAll(query)
	alphabet := make(map[rune]bool, len(folded))
	for _, r := range folded {
		alphabet[r] = true
	}
	return &automaton{
		query:     folded,
		maxEdits:  maxEdits,
		alphabet:  alphabet,
		nodeCache: map[string]*dfaNode{},
	}
}

func (a *automaton) initialNode() *dfaNode {
	row := make([]int, len(a.query)+1)
	for i := range row {
		row[i] = i
	}
	return a.nodeFor(row)
}

func (a *automaton) nodeFor(row []int) *dfaNode {
	key := rowKey(row)
	if n, ok := a.nodeCache[key]; ok {
		return n
	}
	n := &dfaNode{row: row, trans: map[rune]*dfaNode{}}
	a.nodeCache[key] = n
	return n
}

func rowKey(row []int) string {
	var b strings.Builder
	for _, v := range row {
		b.WriteString(strconv.Itoa(v))
		b.WriteByte(',')
	}
	return b.String()
}

// noMatchClass is the fallback transition key for any rune outside the
// query's alphabet; no valid rune is negative, so it cannot collide with
// a real query rune.
const noMatchClass = rune(-1)

// step consumes rune r from dfaNode n, returning the next automaton
// state. Runes that appear in the query term get their own cached edge;
// every other rune shares one fallback edge, since the edit-distance
// update is identical (always a mismatch) for any rune the query never
// contains.
func (a *automaton) step(n *dfaNode, r rune) *dfaNode {
	folded := runeutil.Fold(r)
	if a.alphabet[folded] {
		if e, ok := n.trans[folded]; ok {
			return e
		}
		e := a.computeStep(n.row, folded)
		n.trans[folded] = e
		return e
	}
	if n.fallback != nil {
		return n.fallback
	}
	e := a.computeStep(n.row, noMatchClass)
	n.fallback = e
	return e
}

func (a *automaton) computeStep(prevRow []int, folded rune) *dfaNode {
	qn := len(a.query)
	newRow := make([]int, qn+1)
	newRow[0] = prevRow[0] + 1
	for j := 1; j <= qn; j++ {
		cost := 1
		if a.query[j-1] == folded {
			cost = 0
		}
		del := prevRow[j] + 1
		ins := newRow[j-1] + 1
		sub := prevRow[j-1] + cost
		m := del
		if ins < m {
			m = ins
		}
		if sub < m {
			m = sub
		}
		if m > a.maxEdits+1 {
			m = a.maxEdits + 1
		}
		newRow[j] = m
	}
	return a.nodeFor(newRow)
}

// FuzzyIterate returns every live key within maxEdits of query. In
// prefix mode, once the query matches some prefix of a candidate within
// maxEdits, every completion of that candidate is also returned (the
// automaton enters a pass-through state), so fuzzy-prefix search behaves
// like autocomplete rather than requiring a whole-key edit distance.
func (t *Trie) FuzzyIterate(query []rune, maxEdits int, prefixMode bool, deadline time.Time) []Entry {
	auto := newAutomaton(query, maxEdits)
	var out []Entry
	state := newWalkState(deadline)
	fuzzyWalk(t.root, nil, auto.initialNode(), auto, prefixMode, state, &out)
	return out
}

func fuzzyWalk(node *Node, prefix []rune, cur *dfaNode, auto *automaton, prefixMode bool, state *walkState, out *[]Entry) {
	if node == nil || state.tick() {
		return
	}

	full := cloneRunes(prefix)
	for i, r := range node.Str {
		cur = auto.step(cur, r)
		full = append(full, r)
		if cur.isDead(auto.maxEdits) {
			return
		}
		if prefixMode && cur.distance(len(auto.query)) <= auto.maxEdits {
			virtual := &Node{
				Str: node.Str[i+1:], Children: node.Children,
				Score: node.Score, Payload: node.Payload,
				Terminal: node.Terminal, Deleted: node.Deleted,
			}
			emitWeighted(virtual, full, cur.distance(len(auto.query)), state, out)
			return
		}
	}

	if node.Terminal && !node.Deleted {
		if dist := cur.distance(len(auto.query)); dist <= auto.maxEdits {
			*out = append(*out, Entry{
				Key:     cloneRunes(full),
				Score:   node.Score * weight(dist),
				Payload: node.Payload,
			})
		}
	}
	for _, c := range node.Children {
		fuzzyWalk(c, full, cur, auto, prefixMode, state, out)
	}
}

// emitWeighted unconditionally emits every live terminal under node,
// scaling each score by the fixed edit-distance weight of the
// pass-through state that admitted this subtree.
func emitWeighted(node *Node, prefix []rune, dist int, state *walkState, out *[]Entry) {
	if node == nil || state.tick() {
		return
	}
	full := append(cloneRunes(prefix), node.Str...)
	if node.Terminal && !node.Deleted {
		*out = append(*out, Entry{Key: cloneRunes(full), Score: node.Score * weight(dist), Payload: node.Payload})
	}
	for _, c := range node.Children {
		emitWeighted(c, full, dist, state, out)
	}
}

func weight(dist int) float32 {
	return float32(math.Exp(-2 * float64(dist)))
}
