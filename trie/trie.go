package trie

import (
	"math/bits"
	"math/rand/v2"
)

// Trie is a compressed rune trie. The zero value is not usable; use New.
type Trie struct {
	root     *Node
	sortMode SortMode
	size     int
}

// New returns an empty trie ordering children per sortMode.
func New(sortMode SortMode) *Trie {
	return &Trie{root: &Node{}, sortMode: sortMode}
}

// Len returns the number of live (non-deleted) terminal keys.
func (t *Trie) Len() int { return t.size }

// Insert adds or updates key with score and payload, combining an
// existing score per op. It returns true if key was not already a live
// member of the trie.
func (t *Trie) Insert(key []rune, score float32, payload []byte, op AddOp) bool {
	newRoot, isNew := insert(t.root, key, score, payload, op, t.sortMode)
	t.root = newRoot
	if isNew {
		t.size++
	}
	return isNew
}

func insert(node *Node, key []rune, score float32, payload []byte, op AddOp, mode SortMode) (*Node, bool) {
	if node == nil {
		return &Node{Str: cloneRunes(key), Score: score, MaxChildScore: score, Payload: payload, Terminal: true}, true
	}

	nodeStr := node.Str
	cp := commonPrefixLen(nodeStr, key)

	switch {
	case cp == len(nodeStr) && cp == len(key):
		wasNew := !node.Terminal || node.Deleted
		applyOp(node, score, op)
		node.Terminal = true
		node.Deleted = false
		if payload != nil {
			node.Payload = payload
		}
		recomputeMaxChildScore(node)
		return node, wasNew

	case cp == len(nodeStr):
		rest := key[cp:]
		if idx := findChildIndex(node, rest[0]); idx >= 0 {
			child, isNew := insert(node.Children[idx], rest, score, payload, op, mode)
			node.Children[idx] = child
			sortChildren(node.Children, mode)
			recomputeMaxChildScore(node)
			return node, isNew
		}
		newChild := &Node{Str: cloneRunes(rest), Score: score, MaxChildScore: score, Payload: payload, Terminal: true}
		node.Children = append(node.Children, newChild)
		sortChildren(node.Children, mode)
		recomputeMaxChildScore(node)
		return node, true

	case cp == len(key):
		remainder := &Node{
			Str: cloneRunes(nodeStr[cp:]), Children: node.Children,
			Score: node.Score, MaxChildScore: node.MaxChildScore,
			Payload: node.Payload, Terminal: node.Terminal, Deleted: node.Deleted,
		}
		parent := &Node{Str: cloneRunes(key), Score: score, Payload: payload, Terminal: true, Children: []*Node{remainder}}
		sortChildren(parent.Children, mode)
		recomputeMaxChildScore(parent)
		return parent, true

	default:
		oldRemainder := &Node{
			Str: cloneRunes(nodeStr[cp:]), Children: node.Children,
			Score: node.Score, MaxChildScore: node.MaxChildScore,
			Payload: node.Payload, Terminal: node.Terminal, Deleted: node.Deleted,
		}
		newChild := &Node{Str: cloneRunes(key[cp:]), Score: score, MaxChildScore: score, Payload: payload, Terminal: true}
		parent := &Node{Str: cloneRunes(nodeStr[:cp]), Children: []*Node{oldRemainder, newChild}}
		sortChildren(parent.Children, mode)
		recomputeMaxChildScore(parent)
		return parent, true
	}
}

// Delete marks key as deleted and collapses redundant nodes on the way
// back up via optimizeNode. It returns false if key was not a live
// member of the trie.
func (t *Trie) Delete(key []rune) bool {
	newRoot, ok := deleteRec(t.root, key, t.sortMode)
	if newRoot == nil {
		newRoot = &Node{}
	}
	t.root = newRoot
	if ok {
		t.size--
	}
	return ok
}

func deleteRec(node *Node, key []rune, mode SortMode) (*Node, bool) {
	if node == nil {
		return nil, false
	}
	cp := commonPrefixLen(node.Str, key)
	if cp < len(node.Str) {
		return node, false
	}

	if cp == len(key) {
		if !node.Terminal || node.Deleted {
			return node, false
		}
		node.Deleted = true
		return optimizeNode(node, mode), true
	}

	rest := key[cp:]
	idx := findChildIndex(node, rest[0])
	if idx < 0 {
		return node, false
	}
	child, ok := deleteRec(node.Children[idx], rest, mode)
	if !ok {
		return node, false
	}
	if child == nil {
		node.Children = append(node.Children[:idx], node.Children[idx+1:]...)
	} else {
		node.Children[idx] = child
	}
	return optimizeNode(node, mode), true
}

// optimizeNode drops deleted leaves, merges a non-terminal node with its
// sole remaining child, recomputes MaxChildScore, and restores sort
// order. It returns nil if node itself is now a deleted, childless leaf.
func optimizeNode(node *Node, mode SortMode) *Node {
	live := node.Children[:0]
	for _, c := range node.Children {
		if c.Deleted && len(c.Children) == 0 {
			continue
		}
		live = append(live, c)
	}
	node.Children = live

	if len(node.Children) == 1 && !node.Terminal {
		child := node.Children[0]
		node.Str = append(node.Str, child.Str...)
		node.Children = child.Children
		node.Score = child.Score
		node.Payload = child.Payload
		node.Terminal = child.Terminal
		node.Deleted = child.Deleted
	}

	sortChildren(node.Children, mode)
	recomputeMaxChildScore(node)

	if node.Deleted && len(node.Children) == 0 {
		return nil
	}
	return node
}

// Lookup returns the node for an exact, live key.
func (t *Trie) Lookup(key []rune) (*Node, bool) {
	node := t.root
	rest := key
	for {
		cp := commonPrefixLen(node.Str, rest)
		if cp != len(node.Str) {
			return nil, false
		}
		rest = rest[cp:]
		if len(rest) == 0 {
			if node.Terminal && !node.Deleted {
				return node, true
			}
			return nil, false
		}
		idx := findChildIndex(node, rest[0])
		if idx < 0 {
			return nil, false
		}
		node = node.Children[idx]
	}
}

// Entry is one live key yielded by a scan.
type Entry struct {
	Key     []rune
	Score   float32
	Payload []byte
}

// RandomKey performs the RANDOMKEY random walk: from the root, at each
// step pick uniformly among children and (except at the root) the
// parent, stopping once at least minSteps have been taken and the
// current node is a live terminal. minSteps is max(4, bits.Len(size)),
// i.e. max(4, floor(log2(size))+1), never below log2(size).
func (t *Trie) RandomKey() ([]rune, bool) {
	if t.size == 0 {
		return nil, false
	}

	minSteps := 4
	if l := bits.Len(uint(t.size)); l > minSteps {
		minSteps = l
	}

	type frame struct {
		node   *Node
		prefix []rune
		parent *frame
	}
	cur := &frame{node: t.root}
	steps := 0

	for {
		options := len(cur.node.Children)
		canGoUp := cur.parent != nil
		total := options
		if canGoUp {
			total++
		}
		if total == 0 {
			// dead end; nothing to do but accept current node if valid.
		} else {
			pick := rand.IntN(total)
			if pick < options {
				child := cur.node.Children[pick]
				cur = &frame{node: child, prefix: append(cloneRunes(cur.prefix), child.Str...), parent: cur}
			} else {
				cur = cur.parent
			}
			steps++
		}

		if steps >= minSteps && cur.node.Terminal && !cur.node.Deleted {
			return cur.prefix, true
		}
		if steps > minSteps*64 {
			// pathological trie shape; fall back to whatever we're on.
			if cur.node.Terminal && !cur.node.Deleted {
				return cur.prefix, true
			}
			return nil, false
		}
	}
}
