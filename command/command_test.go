package command_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distquery/coordinator/command"
)

func TestSetPrefixIdempotent(t *testing.T) {
	c := command.New(command.RootSearch, 2, "FT.SEARCH", "idx", "hello")
	c.SetPrefix("_")
	once := string(c.Args[0])
	c.SetPrefix("_")
	assert.Equal(t, once, string(c.Args[0]))
	assert.Equal(t, "_FT.SEARCH", once)
}

func TestReplaceSubstringShrinkPads(t *testing.T) {
	c := command.New(command.RootSearch, 2, "FT.SEARCH", "idx", "KNN 100 @v $bv")
	c.ReplaceSubstring(2, 4, 3, []byte("30"))
	assert.Equal(t, "KNN 30  @v $bv", string(c.Args[2]))
}

func TestReplaceSubstringGrowsReallocates(t *testing.T) {
	c := command.New(command.RootSearch, 2, "FT.SEARCH", "idx", "KNN 5 @v $bv")
	c.ReplaceSubstring(2, 4, 1, []byte("12345"))
	assert.Equal(t, "KNN 12345 @v $bv", string(c.Args[2]))
}

func TestCloneIsDisjoint(t *testing.T) {
	c := command.New(command.RootSearch, 2, "FT.SEARCH", "idx", "hello")
	clone := c.Clone()
	clone.Args[2][0] = 'H'
	assert.Equal(t, "hello", string(c.Args[2]))
	assert.Equal(t, "Hello", string(clone.Args[2]))
}

func TestAppendInsert(t *testing.T) {
	c := command.New(command.RootSearch, 2, "FT.SEARCH", "idx")
	c.AppendString("hello")
	c.Insert(2, []byte("LIMIT"))
	require.Equal(t, []string{"FT.SEARCH", "idx", "LIMIT", "hello"}, argStrings(c))
}

func argStrings(c *command.Command) []string {
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = string(a)
	}
	return out
}
