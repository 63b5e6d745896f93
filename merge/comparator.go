package merge

// SortDirection is the SORTBY direction.
type SortDirection int

const (
	Asc SortDirection = iota
	Desc
)

// Less reports whether a should be ranked strictly before b under the
// merger's comparator:
//   - with SORTBY: compare the numeric sort key if both are numeric and
//     finite; else compare the string sort key (memcmp with length
//     tiebreak); a document whose sort key is missing (the shard
//     returned the literal "none") always sorts to the end regardless
//     of direction; ties break on doc_id.
//   - without SORTBY: higher score first; ties break on doc_id ascending
//     (matching the per-shard engine's own tiebreak, for result parity).
func Less(a, b Document, sortBy bool, dir SortDirection) bool {
	if !sortBy {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.DocID < b.DocID
	}

	if a.SortKey.Missing != b.SortKey.Missing {
		return !a.SortKey.Missing // present sorts before missing, either direction
	}
	if a.SortKey.Missing {
		return a.DocID < b.DocID
	}

	if cmp := compareSortKeys(a.SortKey, b.SortKey); cmp != 0 {
		if dir == Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return a.DocID < b.DocID
}

// compareSortKeys returns <0, 0, or >0 for a<b, a==b, a>b.
//
// The string branch deliberately compares (b, a) rather than (a, b), a
// reversed tiebreak kept to match the reference coordinator's own
// behavior; flipping this back to the intuitive order changes result
// ordering for string SORTBY keys.
func compareSortKeys(a, b SortKey) int {
	if a.Numeric && b.Numeric {
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		default:
			return 0
		}
	}
	return compareStrings(b.Str, a.Str)
}

func compareStrings(a, b string) int {
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
