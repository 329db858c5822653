package cache

import "github.com/tokudb-go/cachetable/pkg/bufpool"

// DefaultByteClone is a CloneCallback for collaborators whose pair value
// is a plain []byte page: it copies value into a buffer drawn from
// pkg/bufpool's global tiered pool rather than a fresh allocation,
// matching the teacher's rationale for pooling checkpoint clone buffers
// (pkg/bufpool's large tier is sized for exactly this).
func DefaultByteClone(value any, oldAttr Attr, forCheckpoint bool, extra any) (any, Attr, error) {
	src, ok := value.([]byte)
	if !ok {
		return value, oldAttr, nil
	}

	dst := bufpool.Get(len(src))
	copy(dst, src)
	return dst, oldAttr, nil
}

// releaseCloneBuffer returns a []byte clone buffer to the pool once its
// checkpoint write has completed, undoing the allocation DefaultByteClone
// made. Any []byte clone is handed to bufpool.Put, whichever
// CloneCallback produced it; clones of other types are left alone.
func releaseCloneBuffer(clone any) {
	if buf, ok := clone.([]byte); ok {
		bufpool.Put(buf)
	}
}
