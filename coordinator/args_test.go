package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distquery/coordinator/merge"
)

func TestParseSearchArgsDefaults(t *testing.T) {
	sa, err := parseSearchArgs([]string{"idx", "hello"})
	require.NoError(t, err)
	assert.Equal(t, "idx", sa.Index)
	assert.Equal(t, "hello", sa.Query)
	assert.Equal(t, 0, sa.Offset)
	assert.Equal(t, 10, sa.Limit)
	assert.False(t, sa.HasSortBy)
	assert.Nil(t, sa.KNN)
}

func TestParseSearchArgsLimitSortByReturn(t *testing.T) {
	sa, err := parseSearchArgs([]string{
		"idx", "hello",
		"LIMIT", "5", "20",
		"SORTBY", "price", "DESC",
		"RETURN", "2", "title", "price",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, sa.Offset)
	assert.Equal(t, 20, sa.Limit)
	assert.True(t, sa.HasSortBy)
	assert.Equal(t, "price", sa.SortField)
	assert.Equal(t, merge.Desc, sa.SortDir)
	assert.Equal(t, []string{"title", "price"}, sa.ReturnFields)
}

func TestParseSearchArgsRejectsMissingQuery(t *testing.T) {
	_, err := parseSearchArgs([]string{"idx"})
	assert.Error(t, err)
}

func TestParseSearchArgsRejectsBadLimit(t *testing.T) {
	_, err := parseSearchArgs([]string{"idx", "hello", "LIMIT", "not-a-number", "10"})
	assert.Error(t, err)
}

func TestParseSearchArgsKNNLiteral(t *testing.T) {
	sa, err := parseSearchArgs([]string{"idx", "*=>[KNN 10 @vec $BLOB]", "SHARD_WINDOW_RATIO", "0.5"})
	require.NoError(t, err)
	require.NotNil(t, sa.KNN)
	assert.True(t, sa.KNN.Literal)
	assert.Equal(t, 10, sa.KNN.K)
	assert.InDelta(t, 0.5, sa.KNN.ShardWindowRatio, 1e-9)

	matched := sa.Query[sa.KNN.MatchStart : sa.KNN.MatchStart+sa.KNN.MatchLen]
	assert.Equal(t, "10", matched)
}

func TestParseSearchArgsKNNParam(t *testing.T) {
	sa, err := parseSearchArgs([]string{"idx", "*=>[KNN $K @vec $BLOB]"})
	require.NoError(t, err)
	require.NotNil(t, sa.KNN)
	assert.False(t, sa.KNN.Literal)
	assert.Equal(t, "K", sa.KNN.ParamName)
}

func TestParseSearchArgsNoKNN(t *testing.T) {
	sa, err := parseSearchArgs([]string{"idx", "hello world"})
	require.NoError(t, err)
	assert.Nil(t, sa.KNN)
}

func TestRowOptionsMatchesSearchFlags(t *testing.T) {
	sa, err := parseSearchArgs([]string{"idx", "hello", "WITHPAYLOADS", "NOCONTENT"})
	require.NoError(t, err)
	opts := sa.rowOptions()
	assert.True(t, opts.NoSortBy)
	assert.True(t, opts.WithPayload)
	assert.True(t, opts.NoContent)
}
