package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ringMembers returns the set of pairs currently reachable from the
// clock ring, via forEachRing.
func ringMembers(l *PairList) map[*Pair]bool {
	out := make(map[*Pair]bool)
	l.forEachRing(func(p *Pair) { out[p] = true })
	return out
}

// hashChainMembers returns the set of pairs reachable by walking every
// hash bucket's chain.
func hashChainMembers(l *PairList) map[*Pair]bool {
	out := make(map[*Pair]bool)
	for _, head := range l.buckets {
		for p := head; p != nil; p = p.hashNext {
			out[p] = true
		}
	}
	return out
}

// TestHashChainMatchesClockRing is spec.md §8 P2: every pair reachable
// via its hash chain is reachable via the clock ring, and vice versa,
// after a mix of inserts and evictions (including ones that force a
// rehash).
func TestHashChainMatchesClockRing(t *testing.T) {
	cf := &Cachefile{filenum: 1}
	l := newPairList()

	var pairs []*Pair
	const n = initialBuckets*loadFactorDouble + 10 // forces at least one rehash
	for i := 0; i < n; i++ {
		p := newPair(cf, BlockKey(i), uint64(i), nil, nil, Attr{Size: 1}, false, PairCallbacks{})
		pairs = append(pairs, p)

		l.listLock.Lock()
		l.put(p)
		l.listLock.Unlock()
	}

	l.listLock.RLock()
	assert.Equal(t, n, l.pairCount())
	assert.Equal(t, hashChainMembers(l), ringMembers(l))
	l.listLock.RUnlock()

	// Evict every third pair; membership must still agree, and the
	// evicted pairs must be gone from both structures.
	evicted := make(map[*Pair]bool)
	for i, p := range pairs {
		if i%3 != 0 {
			continue
		}
		l.listLock.Lock()
		l.evict(p)
		l.listLock.Unlock()
		evicted[p] = true
	}

	l.listLock.RLock()
	defer l.listLock.RUnlock()

	hashSet := hashChainMembers(l)
	ringSet := ringMembers(l)
	require.Equal(t, hashSet, ringSet)

	for p := range evicted {
		assert.NotContains(t, hashSet, p)
		assert.NotContains(t, ringSet, p)
	}
	assert.Equal(t, n-len(evicted), l.pairCount())
}
