package cache

import "errors"

// Sentinel errors returned by cache operations. Wrap with fmt.Errorf's
// %w when adding context; callers should compare with errors.Is.
var (
	// ErrNotFound is returned by a lookup-only path when the file or key
	// is absent from the cache.
	ErrNotFound = errors.New("cache: not found")

	// ErrIoFailed is returned when a flush or fetch callback reports a
	// system-level failure.
	ErrIoFailed = errors.New("cache: io failed")

	// ErrDuplicateFileid is returned by OpenFile when the stable
	// device+inode identity of the requested path is already registered
	// under a different cachefile.
	ErrDuplicateFileid = errors.New("cache: duplicate fileid")

	// ErrAlreadyExists is returned by BeginCheckpoint when a checkpoint
	// is already in progress.
	ErrAlreadyExists = errors.New("cache: checkpoint already in progress")

	// ErrShuttingDown is returned by GetAndPin when it races a CloseFile
	// call already in progress against the same cachefile.
	ErrShuttingDown = errors.New("cache: shutting down")

	// ErrResourceExhausted is returned when a memory reservation would
	// exceed the configured cache limit.
	ErrResourceExhausted = errors.New("cache: resource exhausted")
)
