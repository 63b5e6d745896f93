package trie_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distquery/coordinator/trie"
)

func keys(entries []trie.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Key)
	}
	return out
}

func TestInsertLookup(t *testing.T) {
	tr := trie.New(trie.SortScore)
	assert.True(t, tr.Insert([]rune("dostoevsky"), 1, nil, trie.AddReplace))
	assert.False(t, tr.Insert([]rune("dostoevsky"), 2, nil, trie.AddReplace))
	assert.Equal(t, 1, tr.Len())

	node, ok := tr.Lookup([]rune("dostoevsky"))
	require.True(t, ok)
	assert.Equal(t, float32(2), node.Score)

	_, ok = tr.Lookup([]rune("missing"))
	assert.False(t, ok)
}

func TestInsertSplitsSharedPrefix(t *testing.T) {
	tr := trie.New(trie.SortLex)
	tr.Insert([]rune("cbs"), 1, nil, trie.AddReplace)
	tr.Insert([]rune("cbsnews"), 1, nil, trie.AddReplace)
	assert.Equal(t, 2, tr.Len())

	_, ok := tr.Lookup([]rune("cbs"))
	assert.True(t, ok)
	_, ok = tr.Lookup([]rune("cbsnews"))
	assert.True(t, ok)
}

func TestDeleteThenReinsert(t *testing.T) {
	tr := trie.New(trie.SortScore)
	tr.Insert([]rune("jezebel"), 1, nil, trie.AddReplace)
	require.True(t, tr.Delete([]rune("jezebel")))
	assert.Equal(t, 0, tr.Len())

	_, ok := tr.Lookup([]rune("jezebel"))
	assert.False(t, ok)

	assert.True(t, tr.Insert([]rune("jezebel"), 5, nil, trie.AddReplace))
	assert.Equal(t, 1, tr.Len())
}

func TestPrefixIterate(t *testing.T) {
	tr := trie.New(trie.SortScore)
	for _, w := range []string{"dostoevsky", "dostoyevski", "cbs", "jezebel"} {
		tr.Insert([]rune(w), 1, nil, trie.AddReplace)
	}
	entries := tr.PrefixIterate([]rune("dost"), -1e9, time.Time{})
	got := keys(entries)
	assert.ElementsMatch(t, []string{"dostoevsky", "dostoyevski"}, got)
}

func TestFuzzyMatch(t *testing.T) {
	tr := trie.New(trie.SortScore)
	dict := map[string]float32{"dostoevsky": 1, "dostoyevski": 0.9, "cbs": 1, "jezebel": 0.5}
	for w, s := range dict {
		tr.Insert([]rune(w), s, nil, trie.AddReplace)
	}

	entries := tr.FuzzyIterate([]rune("dostoevski"), 2, false, time.Time{})
	got := keys(entries)
	assert.ElementsMatch(t, []string{"dostoevsky", "dostoyevski"}, got)
}

func TestWildcardMatch(t *testing.T) {
	tr := trie.New(trie.SortScore)
	for _, w := range []string{"dostoevsky", "dostoyevski", "jezebel"} {
		tr.Insert([]rune(w), 1, nil, trie.AddReplace)
	}

	got := keys(tr.WildcardIterate([]rune("dos*sky"), time.Time{}))
	assert.Equal(t, []string{"dostoevsky"}, got)

	got = keys(tr.WildcardIterate([]rune("??zebel"), time.Time{}))
	assert.Equal(t, []string{"jezebel"}, got)

	got = keys(tr.WildcardIterate([]rune("*"), time.Time{}))
	assert.ElementsMatch(t, []string{"dostoevsky", "dostoyevski", "jezebel"}, got)
}

func TestTrimPatternCollapsesStars(t *testing.T) {
	assert.Equal(t, []rune("a*b"), trie.TrimPattern([]rune("a***b")))
	assert.Equal(t, []rune("a?*b"), trie.TrimPattern([]rune("a*?b")))
}

func TestRangeIterate(t *testing.T) {
	tr := trie.New(trie.SortLex)
	for _, w := range []string{"apple", "banana", "cherry", "date"} {
		tr.Insert([]rune(w), 1, nil, trie.AddReplace)
	}
	got := keys(tr.RangeIterate([]rune("banana"), []rune("date"), true, false, time.Time{}))
	assert.ElementsMatch(t, []string{"banana", "cherry"}, got)
}

func TestContainsAndSuffix(t *testing.T) {
	tr := trie.New(trie.SortScore)
	for _, w := range []string{"dostoevsky", "cbs", "jezebel"} {
		tr.Insert([]rune(w), 1, nil, trie.AddReplace)
	}
	got := keys(tr.Contains([]rune("toev"), false, time.Time{}))
	assert.Equal(t, []string{"dostoevsky"}, got)

	got = keys(tr.Contains([]rune("bel"), true, time.Time{}))
	assert.Equal(t, []string{"jezebel"}, got)
}

func TestRandomKeyReturnsLiveTerminal(t *testing.T) {
	tr := trie.New(trie.SortScore)
	for _, w := range []string{"dostoevsky", "cbs", "jezebel", "cat", "dog"} {
		tr.Insert([]rune(w), 1, nil, trie.AddReplace)
	}
	key, ok := tr.RandomKey()
	require.True(t, ok)

	_, found := tr.Lookup(key)
	assert.True(t, found)
}
