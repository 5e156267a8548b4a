package splitter

import (
	"math"
	"math/bits"

	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/typeutils"
)

// Partition divides the closed key range [lower, upper] into exactly n
// consecutive half-open chunks. Sub-ranges may be empty when the range holds
// fewer keys than n. The last chunk is unbounded when upper+1 overflows.
func Partition(lower, upper int64, n int) []types.Chunk {
	if n < 1 {
		n = 1
	}
	if upper < lower {
		lower, upper = upper, lower
	}

	// number of keys in [lower, upper]; 0 stands for the full 2^64 key space
	size := uint64(upper) - uint64(lower) + 1
	boundary := func(i int) int64 {
		if i == n {
			return upper + 1
		}
		hi, lo := uint64(i), uint64(0)
		if size != 0 {
			hi, lo = bits.Mul64(size, uint64(i))
		}
		q, _ := bits.Div64(hi, lo, uint64(n))
		return int64(uint64(lower) + q)
	}

	chunks := make([]types.Chunk, n)
	for i := 0; i < n; i++ {
		chunks[i] = types.Chunk{Min: boundary(i), Max: boundary(i + 1)}
	}
	if upper == math.MaxInt64 {
		chunks[n-1].Max = nil
	}
	return chunks
}

// SplitRange partitions the estimated key range of a table into n chunks.
// The outer bounds are left open so rows written outside the estimate after
// it was taken are still read. Only integer keys are split: text or binary
// bounds and the nil bounds of an empty table yield one unbounded chunk
// instead of n, so such a table is copied by a single slice.
func SplitRange(minValue, maxValue any, n int) []types.Chunk {
	minKey, minOK := integerBound(minValue)
	maxKey, maxOK := integerBound(maxValue)
	if !minOK || !maxOK || n <= 1 {
		return []types.Chunk{{}}
	}

	chunks := Partition(minKey, maxKey, n)
	chunks[0].Min = nil
	chunks[len(chunks)-1].Max = nil
	return chunks
}

// integerBound accepts integer typed bounds only, text keys order differently
func integerBound(v any) (int64, bool) {
	switch v.(type) {
	case nil, string, []byte:
		return 0, false
	}
	return typeutils.ToInt64(v)
}
