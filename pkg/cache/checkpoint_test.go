package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCloneOnWriteDuringCheckpoint is spec.md §8 scenario 4 and
// properties P4-P6: a dirty page that is unpinned at begin_checkpoint
// and write-pinned again afterwards must have its pre-modification
// bytes preserved in a clone, written by the clone job end_checkpoint
// waits on, while the live value_data keeps the foreground writer's
// changes.
func TestCloneOnWriteDuringCheckpoint(t *testing.T) {
	ctx := context.Background()
	c := testCache(t, 1<<20)
	cf := testCachefile(t, c)
	disk := newFakeDisk()

	// Make block 1 dirty and resident, pre-modification bytes 0xAA,
	// then drop the pin so begin_checkpoint's ring walk finds it dirty
	// but not currently held.
	pin, err := c.GetAndPin(ctx, cf, 1, 1, WritePin, bigFetch(4), disk.callbacks())
	require.NoError(t, err)
	before := pin.Value().([]byte)
	for i := range before {
		before[i] = 0xAA
	}
	before = append([]byte(nil), before...)
	c.Unpin(pin, true, nil)

	require.Equal(t, StateIdle, c.checkpoint.State())
	require.NoError(t, c.BeginCheckpoint(ctx))
	require.Equal(t, StateWriting, c.checkpoint.State())

	// Only one checkpoint may be in progress at a time (P4).
	assert.ErrorIs(t, c.BeginCheckpoint(ctx), ErrAlreadyExists)

	// Write-pinning after begin_checkpoint resolves the pending bit via
	// clone-on-write: valueData is cloned before this write touches it.
	pin, err = c.GetAndPin(ctx, cf, 1, 1, WritePin, bigFetch(4), disk.callbacks())
	require.NoError(t, err)

	buf := pin.Value().([]byte)
	for i := range buf {
		buf[i] = 0xBB
	}
	c.Unpin(pin, true, nil)

	_, err = c.EndCheckpoint(ctx, false)
	require.NoError(t, err)

	calls := disk.callsFor(1)
	require.Len(t, calls, 1, "the live value must not be flushed outside the checkpoint path")
	assert.True(t, calls[0].isClone)
	assert.True(t, calls[0].forCheckpoint)

	assert.Equal(t, before, disk.get(1), "the clone must have captured pre-modification bytes")

	pin, err = c.GetAndPin(ctx, cf, 1, 1, ReadPin, bigFetch(4), disk.callbacks())
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBB, 0xBB, 0xBB, 0xBB}, pin.Value().([]byte), "live value must keep the foreground writer's modification")
	c.Unpin(pin, false, nil)

	assert.NoError(t, c.Verify())
}
