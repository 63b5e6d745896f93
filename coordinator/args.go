package coordinator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/distquery/coordinator/merge"
)

// searchArgs is what the coordinator needs out of a client's FT.SEARCH
// (or the equivalent clauses of FT.AGGREGATE) argument list to perform
// the per-shard command rewrite and result merge. The query text itself
// is never parsed; its AST is an opaque, out-of-scope compiler concern.
// Only option keywords the coordinator itself consumes are recognized
// here.
type searchArgs struct {
	Index string
	Query string

	Offset, Limit int
	HasSortBy     bool
	SortField     string
	SortDir       merge.SortDirection

	WithScores   bool
	WithPayloads bool
	NoContent    bool
	WithCount    bool
	TimeoutMS    int

	ReturnFields []string

	KNN *knnClause

	// rest carries every trailing token verbatim (including the ones
	// above), so the per-shard command can be rebuilt from the original
	// argument order rather than a reconstructed one.
	rest []string
}

// knnClause is the coordinator's view of a query-text KNN vector search
// clause: the shard-visible substring to rewrite and, if K was
// parameterized, which PARAMS entry carries it.
type knnClause struct {
	K            int
	Literal      bool   // true if K appeared as a literal integer in the query text
	ParamName    string // set when !Literal
	MatchStart   int    // byte offset of the literal K's digits within Query
	MatchLen     int
	ShardWindowRatio float64
}

var knnLiteralRe = regexp.MustCompile(`KNN\s+(\d+)\s`)
var knnParamRe = regexp.MustCompile(`KNN\s+\$(\w+)\s`)

// defaultShardWindowRatio is used when the client did not supply
// SHARD_WINDOW_RATIO: a ratio of 1.0 disables the shrink rewrite, so
// every shard is asked for the full K unless the client opts into a
// smaller per-shard window.
const defaultShardWindowRatio = 1.0

// parseSearchArgs scans a client's FT.SEARCH-style argument list: index,
// query, then option keywords. Unrecognized keywords (and any arguments
// belonging to them that this coordinator does not itself need to
// rewrite) are preserved unmodified in rest so they still reach the
// shard.
func parseSearchArgs(args []string) (*searchArgs, error) {
	if len(args) < 2 {
		return nil, errors.New("coordinator: expected <index> <query> [options...]")
	}

	sa := &searchArgs{
		Index: args[0],
		Query: args[1],
		Limit: 10, // RediSearch's own default page size
		rest:  append([]string(nil), args...),
	}

	ratio := defaultShardWindowRatio
	i := 2
	for i < len(args) {
		tok := strings.ToUpper(args[i])
		switch tok {
		case "LIMIT":
			o, l, err := parseTwoInts(args, i)
			if err != nil {
				return nil, err
			}
			sa.Offset, sa.Limit = o, l
			i += 3
		case "SORTBY":
			if i+1 >= len(args) {
				return nil, errors.New("coordinator: SORTBY: missing field")
			}
			sa.HasSortBy = true
			sa.SortField = args[i+1]
			sa.SortDir = merge.Asc
			i += 2
			if i < len(args) {
				switch strings.ToUpper(args[i]) {
				case "ASC":
					sa.SortDir = merge.Asc
					i++
				case "DESC":
					sa.SortDir = merge.Desc
					i++
				}
			}
		case "WITHSCORES":
			sa.WithScores = true
			i++
		case "WITHPAYLOADS":
			sa.WithPayloads = true
			i++
		case "NOCONTENT":
			sa.NoContent = true
			i++
		case "WITHCOUNT":
			sa.WithCount = true
			i++
		case "TIMEOUT":
			if i+1 >= len(args) {
				return nil, errors.New("coordinator: TIMEOUT: missing value")
			}
			ms, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, errors.Wrap(err, "coordinator: TIMEOUT")
			}
			sa.TimeoutMS = ms
			i += 2
		case "SHARD_WINDOW_RATIO":
			if i+1 >= len(args) {
				return nil, errors.New("coordinator: SHARD_WINDOW_RATIO: missing value")
			}
			f, err := strconv.ParseFloat(args[i+1], 64)
			if err != nil {
				return nil, errors.Wrap(err, "coordinator: SHARD_WINDOW_RATIO")
			}
			ratio = f
			i += 2
		case "RETURN":
			n, err := parseOneInt(args, i)
			if err != nil {
				return nil, err
			}
			start := i + 2
			end := start + n
			if end > len(args) {
				return nil, errors.New("coordinator: RETURN: declared field count exceeds arguments")
			}
			sa.ReturnFields = append([]string(nil), args[start:end]...)
			i = end
		default:
			i++
		}
	}

	sa.KNN = parseKNN(sa.Query, ratio)
	return sa, nil
}

func parseKNN(query string, ratio float64) *knnClause {
	if m := knnLiteralRe.FindStringSubmatchIndex(query); m != nil {
		k, err := strconv.Atoi(query[m[2]:m[3]])
		if err != nil {
			return nil
		}
		return &knnClause{K: k, Literal: true, MatchStart: m[2], MatchLen: m[3] - m[2], ShardWindowRatio: ratio}
	}
	if m := knnParamRe.FindStringSubmatch(query); m != nil {
		return &knnClause{ParamName: m[1], ShardWindowRatio: ratio}
	}
	return nil
}

func parseOneInt(args []string, i int) (int, error) {
	if i+1 >= len(args) {
		return 0, errors.Errorf("coordinator: %s: missing argument", args[i])
	}
	n, err := strconv.Atoi(args[i+1])
	if err != nil {
		return 0, errors.Wrapf(err, "coordinator: %s", args[i])
	}
	return n, nil
}

func parseTwoInts(args []string, i int) (int, int, error) {
	if i+2 >= len(args) {
		return 0, 0, errors.Errorf("coordinator: %s: expected two arguments", args[i])
	}
	a, err := strconv.Atoi(args[i+1])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "coordinator: %s", args[i])
	}
	b, err := strconv.Atoi(args[i+2])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "coordinator: %s", args[i])
	}
	return a, b, nil
}

// rowOptions derives the merge.RowOptions the per-document reply layout
// will follow once the coordinator has appended its own WITHSCORES/
// WITHSORTKEYS flags to the shard-visible command.
func (sa *searchArgs) rowOptions() merge.RowOptions {
	return merge.RowOptions{
		WithScores:      sa.WithScores,
		NoSortBy:        !sa.HasSortBy,
		WithPayload:     sa.WithPayloads,
		WithSortingKeys: sa.HasSortBy,
		RequiredFields:  sa.ReturnFields,
		NoContent:       sa.NoContent,
	}
}
