package cache

import "sync"

// PinMode distinguishes a read-pin from a write-pin on a Pair's value.
type PinMode int

const (
	// ReadPin acquires value_rwlock in shared mode.
	ReadPin PinMode = iota
	// WritePin acquires value_rwlock in exclusive mode.
	WritePin
)

// valueRWLock is the reader/writer lock guarding a Pair's value_data,
// size_attrs and dirty bit (§4.1). It wraps sync.RWMutex rather than
// reimplementing one: Go's RWMutex already exposes the non-blocking
// TryLock/TryRLock used by the clock sweep, the cleaner and
// maybe_get_and_pin; get_and_pin itself acquires it blocking (§4.3
// step 2).
//
// expensive records whether the current exclusive holder intends to
// perform disk I/O while holding the lock (close_file's flush of a
// dirty pair, or end_checkpoint's pending-pair write). It exists purely for assertions
// and diagnostics — callers that must classify their own acquisition
// as expensive or cheap call LockExpensive/Unlock accordingly.
type valueRWLock struct {
	mu        sync.RWMutex
	expensive bool
}

func (l *valueRWLock) RLock()        { l.mu.RLock() }
func (l *valueRWLock) RUnlock()      { l.mu.RUnlock() }
func (l *valueRWLock) TryRLock() bool { return l.mu.TryRLock() }

func (l *valueRWLock) Lock()   { l.mu.Lock() }
func (l *valueRWLock) Unlock() { l.expensive = false; l.mu.Unlock() }

// TryLock attempts a non-blocking exclusive acquisition, as used by the
// evictor's clock sweep (§4.5) and maybe_get_and_pin.
func (l *valueRWLock) TryLock() bool { return l.mu.TryLock() }

// LockExpensive blocks for exclusive access and marks the acquisition
// as one that will perform disk I/O, per §4.1's note that a blocking
// acquisition is permitted while holding at most pair.mutex.
func (l *valueRWLock) LockExpensive() {
	l.mu.Lock()
	l.expensive = true
}

func (l *valueRWLock) lockFor(mode PinMode) {
	if mode == WritePin {
		l.mu.Lock()
		return
	}
	l.mu.RLock()
}

func (l *valueRWLock) tryLockFor(mode PinMode) bool {
	if mode == WritePin {
		return l.mu.TryLock()
	}
	return l.mu.TryRLock()
}

func (l *valueRWLock) unlockFor(mode PinMode) {
	if mode == WritePin {
		l.Unlock()
		return
	}
	l.mu.RUnlock()
}

// nonBlockingMutex is the single-writer mutex guarding a Pair's
// cloned_value_data, cloned_value_size and disk_data (§3), held for
// the entire duration of any disk write of that pair (I5). Every
// holder in this package acquires it with the blocking Lock; TryLock
// is provided but not used.
type nonBlockingMutex struct {
	mu sync.Mutex
}

func (m *nonBlockingMutex) Lock()        { m.mu.Lock() }
func (m *nonBlockingMutex) Unlock()      { m.mu.Unlock() }
func (m *nonBlockingMutex) TryLock() bool { return m.mu.TryLock() }
