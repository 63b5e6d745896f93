package merge

import "math"

// Options configures one merge pass over every shard's parsed documents.
type Options struct {
	SortBy bool
	Dir    SortDirection
	Offset int
	Limit  int
	KNN    *KNNOptions
}

// KNNOptions configures KNN post-processing: an optional per-shard
// vector-distance pass ahead of the main comparator.
type KNNOptions struct {
	K                int
	ShardWindowRatio float64
	NumShards        int
	ShouldSort       bool
	// SortTargetsVectorScore is true when the request's SORTBY already
	// targets the vector distance field, in which case the main
	// comparator alone sorts correctly and the inner per-shard heap is
	// skipped.
	SortTargetsVectorScore bool
}

// EffectiveK rewrites a KNN K for fanout: when shardWindowRatio < 1.0,
// each shard is only asked for max(ceil(k/numShards), ceil(k*ratio)),
// floored at 1, instead of the full K, trading recall for fanout cost.
func EffectiveK(k, numShards int, shardWindowRatio float64) int {
	if numShards <= 0 {
		numShards = 1
	}
	if shardWindowRatio >= 1.0 {
		return k
	}
	byShardCount := int(math.Ceil(float64(k) / float64(numShards)))
	byRatio := int(math.Ceil(float64(k) * shardWindowRatio))
	eff := byShardCount
	if byRatio > eff {
		eff = byRatio
	}
	if eff < 1 {
		eff = 1
	}
	return eff
}

// heapCapacity is offset+limit: the merger must see all top-(offset+limit)
// candidates from every shard before it can discard anything.
func (o Options) heapCapacity() int {
	cap := o.Offset + o.Limit
	if cap <= 0 {
		cap = o.Limit
	}
	if cap <= 0 {
		cap = 1
	}
	return cap
}

// Merge scans every shard's already-shard-ordered document list, keeping
// the top-(offset+limit) under the configured comparator, and returns the
// offset..offset+limit window in final rank order.
func Merge(shardDocs [][]Document, o Options) []Document {
	less := func(a, b Document) bool { return Less(a, b, o.SortBy, o.Dir) }

	var knnHeaps []*topKHeap
	if o.KNN != nil && o.KNN.ShouldSort && !o.KNN.SortTargetsVectorScore {
		knnHeaps = make([]*topKHeap, len(shardDocs))
		vectorLess := func(a, b Document) bool { return a.VectorScore > b.VectorScore }
		for i := range shardDocs {
			knnHeaps[i] = newTopKHeap(o.KNN.K, vectorLess)
		}
	}

	main := newTopKHeap(o.heapCapacity(), less)

	for shardIdx, docs := range shardDocs {
		if knnHeaps != nil {
			kh := knnHeaps[shardIdx]
			for _, d := range docs {
				kh.Offer(d)
			}
			continue
		}
		for _, d := range docs {
			if !main.Offer(d) && o.SortBy {
				// Shard order is monotone under SORTBY: once a row fails
				// to displace the current worst, every later row in this
				// shard's reply will too.
				break
			}
		}
	}

	if knnHeaps != nil {
		for _, kh := range knnHeaps {
			for _, d := range kh.Drain() {
				main.Offer(d)
			}
		}
	}

	drained := main.Drain()
	if o.Offset >= len(drained) {
		return nil
	}
	end := o.Offset + o.Limit
	if end > len(drained) || o.Limit <= 0 {
		end = len(drained)
	}
	return drained[o.Offset:end]
}
