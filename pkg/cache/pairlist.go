package cache

import "sync"

const (
	initialBuckets   = 64
	loadFactorDouble = 4 // rehash (double) when count > buckets*loadFactorDouble
	loadFactorHalve  = 1 // rehash (halve) when count < buckets*loadFactorHalve/4, min initialBuckets
)

// PairList is the page table (§4.2): a bucketed hash table (power-of-
// two size, doubled/halved as load changes), a circular doubly-linked
// CLOCK ring anchored at clockHead, a non-circular doubly-linked
// pending list anchored at pendingHead/pendingTail, and a cleaner
// cursor advancing independently around the clock ring.
//
// listLock is the list_lock of the global lock order (§4.1).
// pendingExpensive/pendingCheap are the two pending locks guarding the
// checkpoint_pending false->true transition; by the §9 resolution,
// structural edits to the pending list itself happen under listLock,
// and the pending locks only ever guard the bool flip.
type PairList struct {
	listLock sync.RWMutex

	pendingExpensive sync.RWMutex
	pendingCheap     sync.RWMutex

	buckets []*Pair
	count   int

	clockHead   *Pair
	cleanerHead *Pair

	pendingHead *Pair
	pendingTail *Pair
}

func newPairList() *PairList {
	return &PairList{
		buckets: make([]*Pair, initialBuckets),
	}
}

func bucketIndex(hash uint64, numBuckets int) int {
	return int(hash & uint64(numBuckets-1))
}

// findPair is a read-locked lookup by hash chain (§4.2).
func (l *PairList) findPair(cf *Cachefile, key BlockKey, hash uint64) *Pair {
	l.listLock.RLock()
	defer l.listLock.RUnlock()
	return l.findPairLocked(cf, key, hash)
}

// findPairLocked assumes the caller already holds listLock (read or
// write).
func (l *PairList) findPairLocked(cf *Cachefile, key BlockKey, hash uint64) *Pair {
	idx := bucketIndex(hash, len(l.buckets))
	for p := l.buckets[idx]; p != nil; p = p.hashNext {
		if p.cachefile == cf && p.key == key {
			return p
		}
	}
	return nil
}

// put inserts pair at the head of its hash bucket and just before
// clockHead on the ring, so newly fetched pairs sweep last (§4.2).
// Caller must hold listLock in write mode.
func (l *PairList) put(p *Pair) {
	idx := bucketIndex(p.hash, len(l.buckets))
	p.hashNext = l.buckets[idx]
	l.buckets[idx] = p

	l.insertBeforeClockHead(p)

	l.count++
	if l.count > len(l.buckets)*loadFactorDouble {
		l.rehash(len(l.buckets) * 2)
	}
}

func (l *PairList) insertBeforeClockHead(p *Pair) {
	if l.clockHead == nil {
		p.clockNext = p
		p.clockPrev = p
		l.clockHead = p
		return
	}

	tail := l.clockHead.clockPrev
	p.clockPrev = tail
	p.clockNext = l.clockHead
	tail.clockNext = p
	l.clockHead.clockPrev = p
}

// evict removes pair from the hash chain, the ring and the pending
// list if present. Caller must hold listLock in write mode, must
// already hold pair.mutex, and must have observed zero pin count
// (§4.2).
func (l *PairList) evict(p *Pair) {
	idx := bucketIndex(p.hash, len(l.buckets))
	if l.buckets[idx] == p {
		l.buckets[idx] = p.hashNext
	} else {
		for cur := l.buckets[idx]; cur != nil; cur = cur.hashNext {
			if cur.hashNext == p {
				cur.hashNext = p.hashNext
				break
			}
		}
	}
	p.hashNext = nil

	if p.clockNext == p {
		if l.clockHead == p {
			l.clockHead = nil
		}
	} else {
		p.clockPrev.clockNext = p.clockNext
		p.clockNext.clockPrev = p.clockPrev
		if l.clockHead == p {
			l.clockHead = p.clockNext
		}
		if l.cleanerHead == p {
			l.cleanerHead = p.clockNext
		}
	}
	p.clockPrev, p.clockNext = nil, nil

	if p.onPendingList {
		l.pendingListRemove(p)
	}

	l.count--
	if l.count < len(l.buckets)*loadFactorHalve/4 && len(l.buckets) > initialBuckets {
		l.rehash(len(l.buckets) / 2)
	}
}

// rehash resizes the bucket array. Caller must hold listLock in write
// mode.
func (l *PairList) rehash(newSize int) {
	if newSize < initialBuckets {
		newSize = initialBuckets
	}

	newBuckets := make([]*Pair, newSize)
	for _, head := range l.buckets {
		for p := head; p != nil; {
			next := p.hashNext
			idx := bucketIndex(p.hash, newSize)
			p.hashNext = newBuckets[idx]
			newBuckets[idx] = p
			p = next
		}
	}
	l.buckets = newBuckets
}

// pendingListAdd splices p onto the tail of the pending list. Caller
// must hold listLock in write mode.
func (l *PairList) pendingListAdd(p *Pair) {
	if p.onPendingList {
		return
	}
	p.onPendingList = true
	p.pendingPrev = l.pendingTail
	p.pendingNext = nil
	if l.pendingTail != nil {
		l.pendingTail.pendingNext = p
	} else {
		l.pendingHead = p
	}
	l.pendingTail = p
}

// pendingListRemove detaches p from the pending list (§4.2
// pending_pairs_remove). Caller must hold listLock in write mode.
func (l *PairList) pendingListRemove(p *Pair) {
	if !p.onPendingList {
		return
	}
	if p.pendingPrev != nil {
		p.pendingPrev.pendingNext = p.pendingNext
	} else {
		l.pendingHead = p.pendingNext
	}
	if p.pendingNext != nil {
		p.pendingNext.pendingPrev = p.pendingPrev
	} else {
		l.pendingTail = p.pendingPrev
	}
	p.pendingPrev, p.pendingNext = nil, nil
	p.onPendingList = false
}

// advanceClock returns the pair currently at clockHead and moves
// clockHead to the next pair on the ring. It mutates clockHead, so the
// caller must hold listLock in write mode.
func (l *PairList) advanceClock() *Pair {
	if l.clockHead == nil {
		return nil
	}
	p := l.clockHead
	l.clockHead = p.clockNext
	return p
}

// advanceCleaner returns the pair at cleanerHead (initializing it to
// clockHead if unset) and advances the cursor independently of the
// clock sweep (§4.6). Caller must hold listLock.
func (l *PairList) advanceCleaner() *Pair {
	if l.cleanerHead == nil {
		l.cleanerHead = l.clockHead
	}
	if l.cleanerHead == nil {
		return nil
	}
	p := l.cleanerHead
	l.cleanerHead = p.clockNext
	return p
}

// pairCount returns the number of resident pairs. Caller must hold
// listLock (read or write).
func (l *PairList) pairCount() int {
	return l.count
}

// forEachRing walks the clock ring once, calling fn for every resident
// pair. Caller must hold listLock (read or write). Used by
// begin_checkpoint's pending-bit scan (§4.7 step 4) and by verify.
func (l *PairList) forEachRing(fn func(*Pair)) {
	if l.clockHead == nil {
		return
	}
	start := l.clockHead
	p := start
	for {
		next := p.clockNext
		fn(p)
		if next == start {
			break
		}
		p = next
	}
}
